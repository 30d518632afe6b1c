package domain

// RecipientRole selects a notification audience relative to a document.
type RecipientRole string

// Recipient roles.
const (
	RecipientUnicefFocalPoints   RecipientRole = "unicef_focal_points"
	RecipientPartnerFocalPoints  RecipientRole = "partner_focal_points"
	RecipientAuditorStaff        RecipientRole = "auditor_staff"
	RecipientTPMStaff            RecipientRole = "tpm_staff"
	RecipientTraveler            RecipientRole = "traveler"
	RecipientSupervisor          RecipientRole = "supervisor"
	RecipientFinanceFocalPoints  RecipientRole = "finance_focal_points"
	RecipientRepresentative      RecipientRole = "representative"
	RecipientPartnershipManagers RecipientRole = "partnership_managers"
)

// GroupRecipients are resolved from a directory rather than from the document.
var GroupRecipients = map[RecipientRole]string{
	RecipientFinanceFocalPoints:  GroupFinanceFocalPoint,
	RecipientRepresentative:      GroupRepresentative,
	RecipientPartnershipManagers: GroupPartnershipManager,
}
