package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

func TestInterventionSubmitForReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seed(t, draftIntervention("agreement-1"), domain.StatusDraft)
	f.attach(t, ref, domain.AttachmentSignedPD, "")

	res, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: ref, Transition: "submit"})
	require.NoError(t, err)

	iv := f.get(t, ref).(*domain.Intervention)
	assert.Equal(t, domain.StatusReview, iv.Status)
	require.NotNil(t, iv.SubmissionDate)
	assert.True(t, iv.SubmissionDate.Equal(fixedNow))
	assert.Equal(t, fixedNow, iv.StatusDates[domain.StatusReview])

	history := f.svc.Store().History(ref)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusDraft, history[0].FromStatus)
	assert.Equal(t, domain.StatusReview, history[0].ToStatus)
	assert.Equal(t, res.Record.ID, history[0].ID)

	sent := f.outbox.sent(notify.InterventionReviewNeeded)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"fp@unicef.org"}, sent[0].Recipients)
	assert.Equal(t, iv.Version, sent[0].Version)
	assert.Contains(t, f.outbox.invalidated, ref)
}

func TestInterventionSubmitWithoutSignedDocument(t *testing.T) {
	f := newFixture(t)
	ref := f.seed(t, draftIntervention("agreement-1"), domain.StatusDraft)

	_, err := f.svc.Transition(context.Background(), TransitionRequest{Actor: pmActor, Ref: ref, Transition: "submit"})
	require.Error(t, err)
	derr, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindValidationFailed, derr.Kind)
	assert.Contains(t, derr.Fields, "signed_pd_attachment")
	assert.Equal(t, domain.StatusDraft, f.get(t, ref).Head().Status)
	assert.Empty(t, f.svc.Store().History(ref))
}

func TestEngagementSubmitRequiresReport(t *testing.T) {
	f := newFixture(t)
	ref := f.seed(t, &domain.Engagement{
		EngagementType:    domain.EngagementMicroAssessment,
		PartnerID:         "partner-1",
		AuditorFirmID:     "firm-1",
		UnicefFocalPoints: []domain.Person{focalPerson},
		OverallRisk:       "low",
	}, domain.StatusPartnerContacted)

	_, err := f.svc.Transition(context.Background(), TransitionRequest{Actor: auditorActor, Ref: ref, Transition: "submit"})
	require.Error(t, err)
	derr, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindValidationFailed, derr.Kind)
	assert.Equal(t, domain.FieldErrors{"report_attachments": {"You should attach report."}}, derr.Fields)
	assert.Equal(t, domain.StatusPartnerContacted, f.get(t, ref).Head().Status)

	f.attach(t, ref, domain.AttachmentReport, domain.FileTypeReport)
	res, err := f.svc.Transition(context.Background(), TransitionRequest{Actor: auditorActor, Ref: ref, Transition: "submit"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReportSubmitted, res.To)
	e := res.Document.(*domain.Engagement)
	require.NotNil(t, e.DateOfReportSubmit)
	assert.NotEmpty(t, e.ReferenceNumber)
}

func TestSignedAmendmentCannotBeDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agreement := signedAgreement()
	signedID, draftID := domain.NewID(), domain.NewID()
	agreement.Amendments = []domain.Amendment{
		{ID: signedID, Number: 1, Types: []domain.AmendmentType{domain.AmendmentAuthorizedOfficers}, SignedDate: day(2023, 6, 1)},
		{ID: draftID, Number: 2, Types: []domain.AmendmentType{domain.AmendmentAuthorizedOfficers}},
	}
	ref := f.seed(t, agreement, domain.StatusSigned)

	for _, actor := range []domain.Actor{nobodyActor, pmActor, godActor} {
		err := f.svc.DeleteAmendment(ctx, Scope{Actor: actor, Ref: ref}, signedID)
		require.Error(t, err, actor.UserID)
		derr, ok := domain.AsError(err)
		require.True(t, ok)
		assert.Equal(t, domain.ErrKindIntegrity, derr.Kind, actor.UserID)
		assert.Equal(t, "Cannot delete a signed amendment", derr.Message)
	}
	assert.Len(t, f.get(t, ref).(*domain.Agreement).Amendments, 2)

	_, err := f.svc.UpdateAmendment(ctx, Scope{Actor: pmActor, Ref: ref}, signedID, domain.Amendment{Types: []domain.AmendmentType{domain.AmendmentAuthorizedOfficers}})
	assert.True(t, domain.IsKind(err, domain.ErrKindIntegrity))

	err = f.svc.DeleteAmendment(ctx, Scope{Actor: nobodyActor, Ref: ref}, draftID)
	assert.True(t, domain.IsKind(err, domain.ErrKindPermissionDenied))

	require.NoError(t, f.svc.DeleteAmendment(ctx, Scope{Actor: pmActor, Ref: ref}, draftID))
	stored := f.get(t, ref).(*domain.Agreement)
	require.Len(t, stored.Amendments, 1)
	assert.Equal(t, signedID, stored.Amendments[0].ID)
}

func TestTPMVisitAssignNeedsActivities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seed(t, &domain.TPMVisit{
		TPMPartnerID:          "tpm-1",
		TPMPartnerFocalPoints: []domain.Person{{Email: "monitor@tpm.example"}},
		Author:                domain.Person{UserID: "pme", Email: "pme@unicef.org"},
	}, domain.StatusDraft)

	_, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmeActor, Ref: ref, Transition: "assign"})
	require.True(t, domain.IsKind(err, domain.ErrKindValidationFailed), "got %v", err)
	assert.Equal(t, domain.StatusDraft, f.get(t, ref).Head().Status)

	_, err = f.svc.AddTPMActivity(ctx, Scope{Actor: pmeActor, Ref: ref}, domain.TPMActivity{
		PartnerID:         "partner-1",
		UnicefFocalPoints: []domain.Person{focalPerson},
		Offices:           []string{"nairobi"},
	})
	require.NoError(t, err)

	res, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmeActor, Ref: ref, Transition: "assign"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, res.To)
	assert.Equal(t, "KEN/TPM2024/1", res.Document.Head().ReferenceNumber)

	sent := f.outbox.sent(notify.TPMVisitAssign)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"monitor@tpm.example"}, sent[0].Recipients)
	assert.Equal(t, "KEN/TPM2024/1", sent[0].Context["reference_number"])
}

func TestEngagementDisplayedStatusPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seed(t, &domain.Engagement{
		EngagementType:            domain.EngagementAudit,
		PartnerID:                 "partner-1",
		AuditorFirmID:             "firm-1",
		DateOfCommentsByIP:        day(2001, 1, 1),
		DateOfDraftReportToUnicef: day(2001, 2, 1),
	}, domain.StatusPartnerContacted)

	view, err := f.svc.Read(ctx, auditorActor, ref)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCommentsReceivedByPartner), view["displayed_status"])
	assert.Equal(t, string(domain.StatusPartnerContacted), view["status"])

	status, err := f.svc.Status(ctx, auditorActor, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartnerContacted, status.CurrentStatus)
	assert.Equal(t, domain.StatusCommentsReceivedByPartner, status.DisplayedStatus)
	assert.Equal(t, []string{"submit"}, status.AllowedTransitions)
}

// reviewIntervention seeds an intervention ready for signature under a signed agreement.
func reviewIntervention(t *testing.T, f *fixture) domain.Ref {
	t.Helper()
	agreement := f.seed(t, signedAgreement(), domain.StatusSigned)
	iv := draftIntervention(agreement.ID)
	iv.SignedByUnicefDate = day(2024, 1, 10)
	iv.SignedByPartnerDate = day(2024, 1, 12)
	iv.Reviews = []domain.Review{{
		ID:                domain.NewID(),
		ReviewType:        domain.ReviewPRC,
		AuthorizedOfficer: "officer@unicef.org",
		OverallApprover:   "approver@unicef.org",
		OverallApproval:   boolPtr(true),
	}}
	ref := f.seed(t, iv, domain.StatusReview)
	f.attach(t, ref, domain.AttachmentSignedPD, "")
	return ref
}

func TestConcurrentSignConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := reviewIntervention(t, f)
	v := f.get(t, ref).Head().Version

	first, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: ref, Transition: "signed", ExpectedVersion: v})
	require.NoError(t, err)
	assert.Equal(t, v+1, first.Document.Head().Version)

	other := pmActor
	other.UserID, other.Email = "pm2", "pm2@unicef.org"
	_, err = f.svc.Transition(ctx, TransitionRequest{Actor: other, Ref: ref, Transition: "signed", ExpectedVersion: v})
	require.True(t, domain.IsKind(err, domain.ErrKindConflict), "got %v", err)

	status, err := f.svc.Status(ctx, other, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSigned, status.CurrentStatus)

	_, err = f.svc.Transition(ctx, TransitionRequest{Actor: other, Ref: ref, Transition: "signed", ExpectedVersion: v + 1})
	assert.True(t, domain.IsKind(err, domain.ErrKindInvalidState), "got %v", err)
}

func TestConcurrentSignOnlyOneCommits(t *testing.T) {
	f := newFixture(t)
	ref := reviewIntervention(t, f)
	v := f.get(t, ref).Head().Version

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Transition(context.Background(), TransitionRequest{Actor: pmActor, Ref: ref, Transition: "signed", ExpectedVersion: v})
		}(i)
	}
	wg.Wait()

	committed, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case domain.IsKind(err, domain.ErrKindConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, domain.FilterMeaningful(f.svc.Store().History(ref)), 1)
}

func TestTransitionRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := reviewIntervention(t, f)

	_, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: ref, Transition: "submit"})
	assert.True(t, domain.IsKind(err, domain.ErrKindInvalidState), "re-entering review: %v", err)

	_, err = f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: ref, Transition: "launch"})
	assert.True(t, domain.IsKind(err, domain.ErrKindUnknownSubject), "unknown transition: %v", err)

	_, err = f.svc.Transition(ctx, TransitionRequest{Actor: focalActor, Ref: ref, Transition: "signed"})
	assert.True(t, domain.IsKind(err, domain.ErrKindPermissionDenied), "focal point cannot sign: %v", err)

	_, err = f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: ref, Transition: "send_back"})
	assert.True(t, domain.IsKind(err, domain.ErrKindValidationFailed), "send back needs a comment: %v", err)

	foreign := pmActor
	foreign.Tenant = "ug"
	_, err = f.svc.Transition(ctx, TransitionRequest{Actor: foreign, Ref: domain.Ref{Tenant: "ug", Kind: ref.Kind, ID: ref.ID}, Transition: "signed"})
	assert.True(t, domain.IsKind(err, domain.ErrKindNotFound), "other tenant: %v", err)
	_, err = f.svc.Get(ctx, foreign, ref)
	assert.True(t, domain.IsKind(err, domain.ErrKindNotFound), "cross tenant read: %v", err)

	assert.Equal(t, domain.StatusReview, f.get(t, ref).Head().Status)
}

func TestSendBackKeepsComment(t *testing.T) {
	f := newFixture(t)
	ref := reviewIntervention(t, f)

	_, err := f.svc.Transition(context.Background(), TransitionRequest{
		Actor: pmActor, Ref: ref, Transition: "send_back", Comment: "Budget needs rework",
	})
	require.NoError(t, err)
	iv := f.get(t, ref).(*domain.Intervention)
	assert.Equal(t, domain.StatusDraft, iv.Status)
	assert.Equal(t, "Budget needs rework", iv.SendBackComment)

	history, err := f.svc.History(context.Background(), pmActor, ref, true)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Budget needs rework", history[0].Comment)
}

func TestAgreementSuspendCascadesToInterventions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agreement := f.seed(t, signedAgreement(), domain.StatusSigned)
	active := f.seed(t, draftIntervention(agreement.ID), domain.StatusActive)
	drafting := f.seed(t, draftIntervention(agreement.ID), domain.StatusDraft)

	res, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: agreement, Transition: "suspend"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Ref{active}, res.Touched)

	assert.Equal(t, domain.StatusSuspended, f.get(t, active).Head().Status)
	assert.Equal(t, domain.StatusDraft, f.get(t, drafting).Head().Status)

	history := f.svc.Store().History(active)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusActive, history[0].FromStatus)
	assert.Equal(t, domain.StatusSuspended, history[0].ToStatus)
	assert.Contains(t, f.outbox.invalidated, active)
}

func TestReferenceSerialsHaveNoGaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	newVisit := func(withActivity bool) domain.Ref {
		v := &domain.TPMVisit{TPMPartnerID: "tpm-1"}
		if withActivity {
			v.Activities = []domain.TPMActivity{{ID: domain.NewID(), PartnerID: "partner-1", UnicefFocalPoints: []domain.Person{focalPerson}, Offices: []string{"nairobi"}}}
		}
		return f.seed(t, v, domain.StatusDraft)
	}

	var issued []string
	for i := 0; i < 3; i++ {
		_, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmeActor, Ref: newVisit(false), Transition: "assign"})
		require.Error(t, err)
		res, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmeActor, Ref: newVisit(true), Transition: "assign"})
		require.NoError(t, err)
		issued = append(issued, res.Document.Head().ReferenceNumber)
	}
	assert.Equal(t, []string{"KEN/TPM2024/1", "KEN/TPM2024/2", "KEN/TPM2024/3"}, issued)
}

func TestReferenceSerialsAreSharedAcrossSubTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var issued []string
	for _, docType := range []domain.InterventionType{domain.InterventionPD, domain.InterventionSPD} {
		iv := draftIntervention("agreement-1")
		iv.DocumentType = docType
		ref := f.seed(t, iv, domain.StatusDraft)
		f.attach(t, ref, domain.AttachmentSignedPD, "")
		res, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: ref, Transition: "submit"})
		require.NoError(t, err)
		issued = append(issued, res.Document.Head().ReferenceNumber)
	}
	assert.Equal(t, []string{"KEN/PD2024/1", "KEN/SPD2024/2"}, issued)
}

func TestNotificationFailureDoesNotFailCommit(t *testing.T) {
	f := newFixture(t)
	f.outbox.notifyErr = assert.AnError
	ref := f.seed(t, draftIntervention("agreement-1"), domain.StatusDraft)
	f.attach(t, ref, domain.AttachmentSignedPD, "")

	res, err := f.svc.Transition(context.Background(), TransitionRequest{Actor: pmActor, Ref: ref, Transition: "submit"})
	require.NoError(t, err)
	assert.Len(t, res.Notified, 1)
	assert.Equal(t, domain.StatusReview, f.get(t, ref).Head().Status)
}

func TestTravelNotifiesRepresentativeOnlyWhenInternational(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	traveler := domain.Actor{UserID: "trv", Email: "trv@unicef.org", Tenant: testTenant}
	for _, international := range []bool{false, true} {
		ref := f.seed(t, &domain.Travel{
			Purpose:             "Field monitoring",
			Traveler:            domain.Person{UserID: "trv", Email: "trv@unicef.org"},
			Supervisor:          domain.Person{UserID: "sup", Email: "sup@unicef.org"},
			InternationalTravel: international,
		}, domain.StatusCertificationApproved)
		res, err := f.svc.Transition(ctx, TransitionRequest{Actor: traveler, Ref: ref, Transition: "mark_as_completed"})
		require.NoError(t, err)
		if international {
			require.Len(t, res.Notified, 1)
			assert.Equal(t, notify.TripCompleted, res.Notified[0].Template)
		} else {
			assert.Empty(t, res.Notified)
		}
	}
}
