package domain

import (
	"fmt"
	"sort"
)

// Kind identifies a document family governed by its own workflow.
type Kind string

// Supported document kinds.
const (
	KindAgreement    Kind = "agreement"
	KindIntervention Kind = "intervention"
	KindEngagement   Kind = "engagement"
	KindTPMVisit     Kind = "tpm_visit"
	KindEFace        Kind = "eface"
	KindTravel       Kind = "travel"
)

// Status is a workflow status value. Displayed statuses share the type.
type Status string

// Workflow statuses across all kinds. A status value may be reused by several kinds.
const (
	StatusDraft       Status = "draft"
	StatusSigned      Status = "signed"
	StatusSuspended   Status = "suspended"
	StatusTerminated  Status = "terminated"
	StatusEnded       Status = "ended"
	StatusDevelopment Status = "development"
	StatusReview      Status = "review"
	StatusActive      Status = "active"
	StatusClosed      Status = "closed"
	StatusCancelled   Status = "cancelled"

	StatusPartnerContacted Status = "partner_contacted"
	StatusReportSubmitted  Status = "report_submitted"
	StatusFinal            Status = "final"

	StatusAssigned          Status = "assigned"
	StatusTPMAccepted       Status = "tpm_accepted"
	StatusTPMRejected       Status = "tpm_rejected"
	StatusTPMReported       Status = "tpm_reported"
	StatusTPMReportRejected Status = "tpm_report_rejected"
	StatusUnicefApproved    Status = "unicef_approved"

	StatusSubmitted Status = "submitted"
	StatusRejected  Status = "rejected"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"

	StatusPlanned                Status = "planned"
	StatusSentForPayment         Status = "sent_for_payment"
	StatusCertificationSubmitted Status = "certification_submitted"
	StatusCertificationRejected  Status = "certification_rejected"
	StatusCertificationApproved  Status = "certification_approved"
	StatusCompleted              Status = "completed"
)

// Displayed statuses derived from engagement report milestones.
const (
	StatusFieldVisit                Status = "field_visit"
	StatusDraftIssuedToUnicef       Status = "draft_issued_to_unicef"
	StatusCommentsReceivedByUnicef  Status = "comments_received_by_unicef"
	StatusDraftIssuedToPartner      Status = "draft_issued_to_partner"
	StatusCommentsReceivedByPartner Status = "comments_received_by_partner"
)

type kindInfo struct {
	initial  Status
	prefix   string
	statuses []Status
	terminal []Status
}

var kindCatalog = map[Kind]kindInfo{
	KindAgreement: {
		initial:  StatusDraft,
		statuses: []Status{StatusDraft, StatusSigned, StatusSuspended, StatusTerminated, StatusEnded},
		terminal: []Status{StatusTerminated, StatusEnded},
	},
	KindIntervention: {
		initial: StatusDevelopment,
		statuses: []Status{
			StatusDevelopment, StatusDraft, StatusReview, StatusSigned, StatusActive,
			StatusSuspended, StatusTerminated, StatusEnded, StatusClosed, StatusCancelled,
		},
		terminal: []Status{StatusTerminated, StatusClosed, StatusCancelled},
	},
	KindEngagement: {
		initial:  StatusPartnerContacted,
		statuses: []Status{StatusPartnerContacted, StatusReportSubmitted, StatusFinal, StatusCancelled},
		terminal: []Status{StatusFinal, StatusCancelled},
	},
	KindTPMVisit: {
		initial:  StatusDraft,
		prefix:   "TPM",
		statuses: []Status{StatusDraft, StatusAssigned, StatusTPMAccepted, StatusTPMRejected, StatusTPMReported, StatusTPMReportRejected, StatusUnicefApproved, StatusCancelled},
		terminal: []Status{StatusUnicefApproved, StatusCancelled},
	},
	KindEFace: {
		initial:  StatusDraft,
		prefix:   "EF",
		statuses: []Status{StatusDraft, StatusSubmitted, StatusRejected, StatusPending, StatusApproved, StatusClosed, StatusCancelled},
		terminal: []Status{StatusClosed, StatusCancelled},
	},
	KindTravel: {
		initial:  StatusPlanned,
		prefix:   "TA",
		statuses: []Status{
			StatusPlanned, StatusSubmitted, StatusRejected, StatusApproved, StatusCancelled, StatusSentForPayment,
			StatusCertificationSubmitted, StatusCertificationRejected, StatusCertificationApproved, StatusCompleted,
		},
		terminal: []Status{StatusCancelled, StatusCompleted},
	},
}

// Kinds lists every supported document kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindCatalog))
	for k := range kindCatalog {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind validates a kind identifier.
func ParseKind(raw string) (Kind, error) {
	k := Kind(raw)
	if _, ok := kindCatalog[k]; !ok {
		return "", UnknownSubject("parse kind", fmt.Sprintf("unknown document kind %q", raw))
	}
	return k, nil
}

// Statuses returns the declared status domain of a kind.
func Statuses(kind Kind) []Status {
	info, ok := kindCatalog[kind]
	if !ok {
		return nil
	}
	return append([]Status(nil), info.statuses...)
}

// InitialStatus reports the status new documents of the kind start in.
func InitialStatus(kind Kind) Status {
	return kindCatalog[kind].initial
}

// ValidStatus reports whether status belongs to the kind's status domain.
func ValidStatus(kind Kind, status Status) bool {
	for _, s := range kindCatalog[kind].statuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status is terminal for kind.
func IsTerminal(kind Kind, status Status) bool {
	for _, s := range kindCatalog[kind].terminal {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultReferencePrefix returns the reference prefix used when a document
// does not derive one from its own sub-type.
func DefaultReferencePrefix(kind Kind) string {
	return kindCatalog[kind].prefix
}
