package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"partnercore/internal/attachments"
	"partnercore/internal/blob"
	"partnercore/internal/notify"
	"partnercore/internal/permissions"
	"partnercore/internal/refdata"
	"partnercore/pkg/domain"
)

const testTenant = "ke"

var fixedNow = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func boolPtr(v bool) *bool { return &v }

var (
	pmActor      = domain.Actor{UserID: "pm", Email: "pm@unicef.org", Tenant: testTenant, Groups: []string{domain.GroupPartnershipManager}}
	focalActor   = domain.Actor{UserID: "fp", Email: "fp@unicef.org", Tenant: testTenant, Groups: []string{domain.GroupUnicefUser}}
	pmeActor     = domain.Actor{UserID: "pme", Email: "pme@unicef.org", Tenant: testTenant, Groups: []string{domain.GroupPME}}
	auditorActor = domain.Actor{UserID: "aud", Email: "aud@firm.example", Tenant: testTenant, OrgKind: domain.OrgAuditor, OrgID: "firm-1"}
	godActor     = domain.Actor{UserID: "root", Email: "root@unicef.org", Tenant: testTenant, Groups: []string{domain.GroupSuperuser}}
	nobodyActor  = domain.Actor{UserID: "guest", Email: "guest@example.org", Tenant: testTenant}
	focalPerson  = domain.Person{UserID: "fp", Email: "fp@unicef.org"}
)

type captureOutbox struct {
	mu          sync.Mutex
	messages    []notify.Message
	invalidated []domain.Ref
	notifyErr   error
}

func (o *captureOutbox) Notify(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.notifyErr != nil {
		return o.notifyErr
	}
	o.messages = append(o.messages, msg)
	return nil
}

func (o *captureOutbox) Invalidate(_ context.Context, ref domain.Ref) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invalidated = append(o.invalidated, ref)
	return nil
}

func (o *captureOutbox) sent(template notify.Template) []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []notify.Message
	for _, m := range o.messages {
		if m.Template == template {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	svc         *Service
	attachments *attachments.Store
	refdata     *refdata.Memory
	outbox      *captureOutbox
}

func defaultMatrix(t *testing.T) *permissions.Matrix {
	t.Helper()
	rules, err := permissions.DefaultRules()
	require.NoError(t, err)
	def, err := permissions.DefaultDefinition(rules)
	require.NoError(t, err)
	m, err := permissions.Build(def)
	require.NoError(t, err)
	return m
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		attachments: attachments.New(blob.NewMemory()),
		refdata: refdata.NewMemory(refdata.Seed{Tenants: []refdata.TenantData{{
			Tenant:   refdata.Tenant{Code: testTenant, ShortCode: "KEN", Name: "Kenya"},
			Partners: []refdata.Partner{{ID: "partner-1", Name: "Partner One"}},
			CountryProgrammes: []refdata.CountryProgramme{{
				ID: "cp-1", Name: "CP 2022-2026",
				Start: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
			}},
			Offices:  []string{"nairobi"},
			Sections: []string{"education"},
			Groups:   map[string][]string{domain.GroupFinanceFocalPoint: {"finance@unicef.org"}},
		}}}),
		outbox: &captureOutbox{},
	}
	base := []Option{
		WithClock(ClockFunc(func() time.Time { return fixedNow })),
		WithAttachments(f.attachments),
		WithRefData(f.refdata),
		WithOutbox(f.outbox),
	}
	f.svc = NewInMemoryService(StaticMatrix(defaultMatrix(t)), append(base, opts...)...)
	return f
}

// seed stores doc directly and moves it to status, bypassing workflow checks.
func (f *fixture) seed(t *testing.T, doc domain.Document, status domain.Status) domain.Ref {
	t.Helper()
	h := doc.Head()
	h.Tenant = testTenant
	if h.ID == "" {
		h.ID = domain.NewID()
	}
	h.Status = ""
	if tot, ok := doc.(domain.Totaled); ok {
		tot.Recalculate()
	}
	ref := domain.RefOf(doc)
	_, err := f.svc.Store().RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.Create(doc); err != nil {
			return err
		}
		if status == domain.InitialStatus(doc.Kind()) {
			return nil
		}
		_, err := tx.Update(ref, func(d domain.Document) error {
			d.Head().Status = status
			return nil
		})
		return err
	})
	require.NoError(t, err)
	return ref
}

func (f *fixture) attach(t *testing.T, ref domain.Ref, code domain.AttachmentCode, fileType string) {
	t.Helper()
	_, err := f.attachments.Upload(context.Background(), ref, code, attachments.Upload{
		Filename:    "document.pdf",
		ContentType: "application/pdf",
		FileType:    fileType,
		UploadedBy:  "fp@unicef.org",
		Body:        strings.NewReader("%PDF-1.4"),
	})
	require.NoError(t, err)
}

func (f *fixture) get(t *testing.T, ref domain.Ref) domain.Document {
	t.Helper()
	doc, ok := f.svc.Store().Get(ref)
	require.True(t, ok, "document %s", ref)
	return doc
}

func item(name, price, units string) domain.LineItem {
	p, n := decimal.RequireFromString(price), decimal.RequireFromString(units)
	return domain.LineItem{ID: domain.NewID(), Name: name, UnitPrice: p, NoUnits: n, UnicefCash: p.Mul(n)}
}

func draftIntervention(agreementID string) *domain.Intervention {
	return &domain.Intervention{
		DocumentType:       domain.InterventionPD,
		TitleText:          "Schools for all",
		AgreementID:        agreementID,
		CountryProgrammeID: "cp-1",
		Start:              day(2024, 1, 1),
		End:                day(2024, 12, 31),
		UnicefFocalPoints:  []domain.Person{focalPerson},
		PartnerFocalPoints: []domain.Person{{UserID: "pfp", Email: "pfp@partner.example"}},
		Sections:           []string{"education"},
		Offices:            []string{"nairobi"},
		ResultLinks:        []domain.ResultLink{{ID: domain.NewID(), CPOutput: "output-1"}},
		Activities: []domain.Activity{{
			ID:    domain.NewID(),
			Name:  "Teacher training",
			Items: []domain.LineItem{item("trainers", "100", "3")},
		}},
		ManagementBudget: []domain.LineItem{item("admin", "50", "2")},
		PlannedBudget:    domain.Budget{Currency: "USD"},
	}
}

func signedAgreement() *domain.Agreement {
	return &domain.Agreement{
		AgreementType:       domain.AgreementPCA,
		PartnerID:           "partner-1",
		CountryProgrammeID:  "cp-1",
		Start:               day(2023, 1, 1),
		End:                 day(2026, 12, 31),
		SignedByUnicefDate:  day(2023, 1, 5),
		SignedByPartnerDate: day(2023, 1, 6),
		UnicefFocalPoints:   []domain.Person{focalPerson},
		AuthorizedOfficers:  []domain.Person{{Email: "officer@partner.example"}},
	}
}
