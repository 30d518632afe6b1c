package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnercore/pkg/domain"
)

type blockTravelPurpose struct{}

func (blockTravelPurpose) Name() string { return "block_purpose" }

func (blockTravelPurpose) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if t, ok := c.After.(*domain.Travel); ok && t.Purpose == "forbidden" {
			res.Violations = append(res.Violations, domain.Violation{Rule: "block_purpose", Severity: domain.SeverityBlock, Ref: c.Ref})
		}
	}
	return res, nil
}

func newTravel(purpose string) *domain.Travel {
	return &domain.Travel{Header: domain.Header{Tenant: "lebanon"}, Purpose: purpose}
}

func TestCreateUpdateBumpsVersion(t *testing.T) {
	s := NewStore(nil)
	fixed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return fixed })
	ctx := context.Background()

	var ref domain.Ref
	_, err := s.RunInTransaction(ctx, func(tx Transaction) error {
		doc, err := tx.Create(newTravel("visit"))
		ref = domain.RefOf(doc)
		return err
	})
	require.NoError(t, err)

	got, ok := s.Get(ref)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Head().Version)
	assert.Equal(t, domain.StatusPlanned, got.Head().Status)
	assert.Equal(t, fixed, got.Head().Created)

	_, err = s.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.Update(ref, func(d Document) error {
			d.(*domain.Travel).Purpose = "audit"
			d.Head().Version = 99
			return nil
		})
		return err
	})
	require.NoError(t, err)
	got, _ = s.Get(ref)
	assert.Equal(t, int64(2), got.Head().Version)
	assert.Equal(t, "audit", got.(*domain.Travel).Purpose)
}

func TestGetReturnsCopies(t *testing.T) {
	s := NewStore(nil)
	var ref domain.Ref
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		doc, err := tx.Create(newTravel("visit"))
		ref = domain.RefOf(doc)
		return err
	})
	require.NoError(t, err)

	got, _ := s.Get(ref)
	got.(*domain.Travel).Purpose = "mutated"
	again, _ := s.Get(ref)
	assert.Equal(t, "visit", again.(*domain.Travel).Purpose)
}

func TestFailedTransactionRollsBack(t *testing.T) {
	s := NewStore(nil)
	boom := errors.New("boom")
	key := domain.CounterKey{Tenant: "lebanon", Kind: domain.KindTravel, Year: 2024}
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.Create(newTravel("visit"))
		require.NoError(t, err)
		assert.Equal(t, 1, tx.NextSerial(key))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.List("lebanon", domain.KindTravel))

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		assert.Equal(t, 1, tx.NextSerial(key))
		return nil
	})
	require.NoError(t, err)
}

func TestBlockingRuleAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockTravelPurpose{})
	s := NewStore(engine)

	res, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.Create(newTravel("forbidden"))
		return err
	})
	var rve domain.RuleViolationError
	require.ErrorAs(t, err, &rve)
	assert.True(t, res.HasBlocking())
	assert.Empty(t, s.List("lebanon", domain.KindTravel))
}

func TestHistoryAndSnapshotRoundTrip(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	var ref domain.Ref
	_, err := s.RunInTransaction(ctx, func(tx Transaction) error {
		doc, err := tx.Create(newTravel("visit"))
		if err != nil {
			return err
		}
		ref = domain.RefOf(doc)
		tx.NextSerial(domain.CounterKey{Tenant: "lebanon", Kind: domain.KindTravel, Year: 2024})
		_, err = tx.AppendHistory(domain.HistoryRecord{Ref: ref, Actor: "a@unicef.org", FromStatus: domain.StatusPlanned, ToStatus: domain.StatusSubmitted, Version: 2})
		return err
	})
	require.NoError(t, err)
	require.Len(t, s.History(ref), 1)

	snap, err := s.ExportState()
	require.NoError(t, err)
	require.Len(t, snap.Documents, 1)

	restored := NewStore(nil)
	require.NoError(t, restored.ImportState(snap))
	doc, ok := restored.Get(ref)
	require.True(t, ok)
	assert.Equal(t, "visit", doc.(*domain.Travel).Purpose)
	assert.Len(t, restored.History(ref), 1)

	_, err = restored.RunInTransaction(ctx, func(tx Transaction) error {
		assert.Equal(t, 2, tx.NextSerial(domain.CounterKey{Tenant: "lebanon", Kind: domain.KindTravel, Year: 2024}))
		return nil
	})
	require.NoError(t, err)
}

func TestMissingDocumentErrors(t *testing.T) {
	s := NewStore(nil)
	ref := domain.Ref{Tenant: "lebanon", Kind: domain.KindTravel, ID: "nope"}
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.Update(ref, func(Document) error { return nil })
		return err
	})
	assert.True(t, domain.IsKind(err, domain.ErrKindNotFound))

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.Create(&domain.Travel{})
		return err
	})
	assert.True(t, domain.IsKind(err, domain.ErrKindUnknownSubject))
}
