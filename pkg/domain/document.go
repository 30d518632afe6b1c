// Package domain holds the document aggregates, their children, the actor and
// role vocabulary, the error taxonomy and the persistence contracts the
// workflow core is written against.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Ref addresses a document within a tenant.
type Ref struct {
	Tenant string `json:"tenant"`
	Kind   Kind   `json:"kind"`
	ID     string `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Tenant, r.Kind, r.ID)
}

// Header carries the attributes every document shares. Its fields are
// system managed and never patched by callers.
type Header struct {
	ID              string               `json:"id"`
	Tenant          string               `json:"tenant"`
	Status          Status               `json:"status"`
	Version         int64                `json:"version"`
	ReferenceNumber string               `json:"reference_number,omitempty"`
	StatusDates     map[Status]time.Time `json:"status_dates,omitempty"`
	Created         time.Time            `json:"created"`
	Modified        time.Time            `json:"modified"`
}

// Head exposes the header of an embedding aggregate.
func (h *Header) Head() *Header { return h }

// StampStatus records when status was entered.
func (h *Header) StampStatus(status Status, at time.Time) {
	if h.StatusDates == nil {
		h.StatusDates = make(map[Status]time.Time)
	}
	h.StatusDates[status] = at
}

// SystemFields lists header paths that callers can never write.
func SystemFields() []string {
	return []string{"id", "tenant", "status", "version", "reference_number", "status_dates", "created", "modified"}
}

// IsSystemField reports whether path is a header path.
func IsSystemField(path string) bool {
	for _, f := range SystemFields() {
		if f == path {
			return true
		}
	}
	return false
}

// Document is implemented by every aggregate root.
type Document interface {
	Kind() Kind
	Head() *Header
}

// RefOf returns the address of doc.
func RefOf(doc Document) Ref {
	h := doc.Head()
	return Ref{Tenant: h.Tenant, Kind: doc.Kind(), ID: h.ID}
}

// Numbered documents receive a reference number when they first leave their initial status.
type Numbered interface {
	Document
	ReferencePrefix() string
}

// DateStamper documents expose named date fields that transitions stamp.
type DateStamper interface {
	Document
	StampDate(field string, at time.Time) error
}

// Totaled documents derive totals from their priced items.
type Totaled interface {
	Document
	Recalculate()
	TotalsErrors() FieldErrors
}

// Addressable documents resolve notification recipients from their own membership lists.
type Addressable interface {
	Document
	Recipients(role RecipientRole) []string
}

// Commented documents keep the comment supplied with certain transitions.
type Commented interface {
	Document
	SetTransitionComment(field, comment string) error
}

// Displayed documents compute a status for presentation that may differ from the stored one.
type Displayed interface {
	Document
	DisplayedStatus() Status
}

// DisplayedStatus returns doc's presented status.
func DisplayedStatus(doc Document) Status {
	if d, ok := doc.(Displayed); ok {
		return d.DisplayedStatus()
	}
	return doc.Head().Status
}

// Titled documents expose a human readable label for notifications.
type Titled interface {
	Title() string
}

// NewDocument returns an empty aggregate of kind.
func NewDocument(kind Kind) (Document, error) {
	switch kind {
	case KindAgreement:
		return &Agreement{}, nil
	case KindIntervention:
		return &Intervention{}, nil
	case KindEngagement:
		return &Engagement{}, nil
	case KindTPMVisit:
		return &TPMVisit{}, nil
	case KindEFace:
		return &EFaceForm{}, nil
	case KindTravel:
		return &Travel{}, nil
	default:
		return nil, UnknownSubject("new document", fmt.Sprintf("unknown document kind %q", kind))
	}
}

// DecodeDocument rebuilds an aggregate from its JSON payload.
func DecodeDocument(kind Kind, payload []byte) (Document, error) {
	doc, err := NewDocument(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return doc, nil
}

// CloneDocument deep copies doc through its JSON form.
func CloneDocument(doc Document) (Document, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", doc.Kind(), err)
	}
	return DecodeDocument(doc.Kind(), payload)
}

// MustClone is CloneDocument for aggregates known to round-trip.
func MustClone(doc Document) Document {
	cp, err := CloneDocument(doc)
	if err != nil {
		panic(err)
	}
	return cp
}

// CounterKey scopes a reference-number serial: one sequence per tenant, kind
// and year, shared by every sub-type prefix of the kind.
type CounterKey struct {
	Tenant string `json:"tenant"`
	Kind   Kind   `json:"kind"`
	Year   int    `json:"year"`
}

func unknownDateField(kind Kind, field string) error {
	return UnknownSubject("stamp date", fmt.Sprintf("%s has no date field %q", kind, field))
}

func unknownCommentField(kind Kind, field string) error {
	return UnknownSubject("set comment", fmt.Sprintf("%s has no comment field %q", kind, field))
}

func stamp(target **time.Time, at time.Time) {
	t := at
	*target = &t
}
