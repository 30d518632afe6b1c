package domain

import "fmt"

// AttachmentCode classifies the purpose of an attached file.
type AttachmentCode string

// Attachment codes.
const (
	AttachmentSignedPD               AttachmentCode = "partners_intervention_signed_pd"
	AttachmentPRCReview              AttachmentCode = "partners_intervention_prc_review"
	AttachmentPartnersAgreement      AttachmentCode = "partners_agreement"
	AttachmentSignedAmendment        AttachmentCode = "partners_agreement_amendment"
	AttachmentTermination            AttachmentCode = "partners_intervention_termination_doc"
	AttachmentFinalPartnershipReview AttachmentCode = "partners_intervention_final_partnership_review"
	AttachmentCoreValuesAssessment   AttachmentCode = "partners_partner_assessment"
	AttachmentReport                 AttachmentCode = "audit_report"
	AttachmentEngagement             AttachmentCode = "audit_engagement"
	AttachmentTPMReport              AttachmentCode = "activity_report"
	AttachmentTPMVisitReport         AttachmentCode = "visit_report"
	AttachmentEFaceSupporting        AttachmentCode = "eface_supporting_document"
	AttachmentTravelReport           AttachmentCode = "t2f_travel_report"
	AttachmentProofOfTransfer        AttachmentCode = "proof_of_transfer"
)

var attachmentCodes = map[AttachmentCode]struct{}{
	AttachmentSignedPD: {}, AttachmentPRCReview: {}, AttachmentPartnersAgreement: {}, AttachmentSignedAmendment: {},
	AttachmentTermination: {}, AttachmentFinalPartnershipReview: {}, AttachmentCoreValuesAssessment: {},
	AttachmentReport: {}, AttachmentEngagement: {}, AttachmentTPMReport: {}, AttachmentTPMVisitReport: {},
	AttachmentEFaceSupporting: {}, AttachmentTravelReport: {}, AttachmentProofOfTransfer: {},
}

// ParseAttachmentCode validates an attachment code.
func ParseAttachmentCode(raw string) (AttachmentCode, error) {
	c := AttachmentCode(raw)
	if _, ok := attachmentCodes[c]; !ok {
		return "", UnknownSubject("parse attachment code", fmt.Sprintf("unknown attachment code %q", raw))
	}
	return c, nil
}

// FileTypeReport labels report files among the attachments of a code.
const FileTypeReport = "report"
