// Package notify fans committed workflow events out to the notification and
// cache-invalidation collaborators.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"partnercore/pkg/domain"
)

// Template is a stable notification template key.
type Template string

// Known templates.
const (
	AgreementSigned           Template = "agreement/signed"
	AgreementSuspended        Template = "agreement/suspended"
	AgreementTerminated       Template = "agreement/terminated"
	InterventionSentToPartner Template = "intervention/sent_to_partner"
	InterventionReviewNeeded  Template = "intervention/review/needed"
	InterventionSentBack      Template = "intervention/sent_back"
	InterventionSigned        Template = "intervention/signed"
	InterventionSignedFRs     Template = "intervention/signed/frs"
	InterventionEnded         Template = "intervention/ended"
	AuditEngagementReported   Template = "audit/engagement/reported"
	AuditEngagementSentBack   Template = "audit/engagement/sent_back"
	AuditEngagementFinal      Template = "audit/engagement/final"
	TPMVisitAssign            Template = "tpm/visit/assign"
	TPMVisitAccepted          Template = "tpm/visit/accepted"
	TPMVisitRejected          Template = "tpm/visit/rejected"
	TPMVisitReported          Template = "tpm/visit/reported"
	TPMVisitReportRejected    Template = "tpm/visit/report_rejected"
	TPMVisitApproved          Template = "tpm/visit/approved"
	TPMVisitCancelled         Template = "tpm/visit/cancelled"
	EFaceSubmitted            Template = "eface/submitted"
	EFaceRejected             Template = "eface/rejected"
	EFaceApproved             Template = "eface/approved"
	TripSubmitted             Template = "trips/trip/submitted"
	TripApproved              Template = "trips/trip/approved"
	TripRejected              Template = "trips/trip/rejected"
	TripSentForPayment        Template = "trips/trip/sent_for_payment"
	TripCertificateSubmitted  Template = "trips/trip/certificate_submitted"
	TripCertificateApproved   Template = "trips/trip/certificate_approved"
	TripCertificateRejected   Template = "trips/trip/certificate_rejected"
	TripCompleted             Template = "trips/trip/completed"
)

var knownTemplates = []Template{
	AgreementSigned, AgreementSuspended, AgreementTerminated,
	InterventionSentToPartner, InterventionReviewNeeded, InterventionSentBack, InterventionSigned,
	InterventionSignedFRs, InterventionEnded,
	AuditEngagementReported, AuditEngagementSentBack, AuditEngagementFinal,
	TPMVisitAssign, TPMVisitAccepted, TPMVisitRejected, TPMVisitReported, TPMVisitReportRejected,
	TPMVisitApproved, TPMVisitCancelled,
	EFaceSubmitted, EFaceRejected, EFaceApproved,
	TripSubmitted, TripApproved, TripRejected, TripSentForPayment, TripCertificateSubmitted,
	TripCertificateApproved, TripCertificateRejected, TripCompleted,
}

// Templates lists every known template key.
func Templates() []Template {
	return append([]Template(nil), knownTemplates...)
}

// ParseTemplate validates a template key.
func ParseTemplate(raw string) (Template, error) {
	for _, t := range knownTemplates {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", domain.UnknownSubject("parse template", fmt.Sprintf("unknown notification template %q", raw))
}

// Message is one templated notification bound to a document version.
type Message struct {
	Template   Template          `json:"template"`
	Recipients []string          `json:"recipients"`
	Context    map[string]string `json:"context"`
	Ref        domain.Ref        `json:"ref"`
	Version    int64             `json:"version"`
}

// Key identifies the message for de-duplication. Recipient order and map
// iteration order do not affect it.
func (m Message) Key() string {
	recipients := append([]string(nil), m.Recipients...)
	sort.Strings(recipients)
	keys := make([]string, 0, len(m.Context))
	for k := range m.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00", m.Template, m.Ref, m.Version)
	h.Write([]byte(strings.Join(recipients, ",")))
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%s", k, m.Context[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Payload is the wire form published to notifier back-ends.
func (m Message) Payload() ([]byte, error) {
	return json.Marshal(m)
}

// Directory resolves group-scoped recipients.
type Directory interface {
	GroupEmails(ctx context.Context, tenant, group string) ([]string, error)
}

// ResolveRecipients collects the addresses of every audience in roles.
// Document-relative audiences come from the document itself; group audiences
// come from dir. Addresses are lower-cased, de-duplicated and sorted.
func ResolveRecipients(ctx context.Context, doc domain.Document, dir Directory, roles ...domain.RecipientRole) ([]string, error) {
	seen := map[string]struct{}{}
	add := func(addrs []string) {
		for _, a := range addrs {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" {
				seen[a] = struct{}{}
			}
		}
	}
	for _, role := range roles {
		if group, ok := domain.GroupRecipients[role]; ok {
			if dir == nil {
				continue
			}
			addrs, err := dir.GroupEmails(ctx, doc.Head().Tenant, group)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", role, err)
			}
			add(addrs)
			continue
		}
		if a, ok := doc.(domain.Addressable); ok {
			add(a.Recipients(role))
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

// DocumentContext renders the template context shared by every message about doc.
func DocumentContext(doc domain.Document) map[string]string {
	h := doc.Head()
	ctx := map[string]string{
		"kind":             string(doc.Kind()),
		"id":               h.ID,
		"tenant":           h.Tenant,
		"status":           string(h.Status),
		"displayed_status": string(domain.DisplayedStatus(doc)),
	}
	if h.ReferenceNumber != "" {
		ctx["reference_number"] = h.ReferenceNumber
	}
	if t, ok := doc.(domain.Titled); ok && t.Title() != "" {
		ctx["title"] = t.Title()
	}
	return ctx
}
