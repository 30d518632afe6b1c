package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEngagementDisplayedStatus(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		set  func(e *Engagement)
		want Status
	}{
		{"no milestones", func(*Engagement) {}, StatusPartnerContacted},
		{"field visit", func(e *Engagement) { e.DateOfFieldVisit = &at }, StatusFieldVisit},
		{"draft to unicef", func(e *Engagement) {
			e.DateOfFieldVisit = &at
			e.DateOfDraftReportToUnicef = &at
		}, StatusDraftIssuedToUnicef},
		{"comments by unicef", func(e *Engagement) {
			e.DateOfDraftReportToUnicef = &at
			e.DateOfCommentsByUnicef = &at
		}, StatusCommentsReceivedByUnicef},
		{"draft to partner", func(e *Engagement) {
			e.DateOfCommentsByUnicef = &at
			e.DateOfDraftReportToIP = &at
		}, StatusDraftIssuedToPartner},
		{"comments by partner win", func(e *Engagement) {
			e.DateOfDraftReportToUnicef = &at
			e.DateOfCommentsByIP = &at
		}, StatusCommentsReceivedByPartner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := &Engagement{Header: Header{Status: StatusPartnerContacted}}
			tc.set(e)
			assert.Equal(t, tc.want, DisplayedStatus(e))
			assert.Equal(t, StatusPartnerContacted, e.Status)
		})
	}
}

func TestEngagementDisplayedStatusOutsideFieldwork(t *testing.T) {
	at := time.Now()
	e := &Engagement{Header: Header{Status: StatusFinal}, DateOfCommentsByIP: &at}
	assert.Equal(t, StatusFinal, DisplayedStatus(e))
}

func TestEngagementReferencePrefix(t *testing.T) {
	assert.Equal(t, "SC", (&Engagement{EngagementType: EngagementSpotCheck}).ReferencePrefix())
	assert.Equal(t, "MA", (&Engagement{EngagementType: EngagementMicroAssessment}).ReferencePrefix())
}
