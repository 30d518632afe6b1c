package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnercore/pkg/domain"
)

var lockedRef = domain.Ref{Tenant: testTenant, Kind: domain.KindTravel, ID: "trip-1"}

func TestLockerTimesOutBusy(t *testing.T) {
	l := NewLocker(20 * time.Millisecond)
	release, err := l.Acquire(context.Background(), lockedRef)
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), lockedRef)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindBusy), "got %v", err)
	assert.Equal(t, 1, l.Held(), "the holder keeps its entry")

	other := lockedRef
	other.ID = "trip-2"
	releaseOther, err := l.Acquire(context.Background(), other)
	require.NoError(t, err)
	releaseOther()

	release()
	release()
	assert.Equal(t, 0, l.Held())
}

func TestLockerHonoursContext(t *testing.T) {
	l := NewLocker(time.Minute)
	release, err := l.Acquire(context.Background(), lockedRef)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx, lockedRef)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
		assert.False(t, domain.IsKind(err, domain.ErrKindBusy))
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled acquire did not return")
	}
	assert.Equal(t, 1, l.Held())
}

func TestLockerHandsOverAndCleansUp(t *testing.T) {
	l := NewLocker(time.Second)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), lockedRef)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.Held())
}

func TestTransitionOnLockedDocumentIsBusy(t *testing.T) {
	locker := NewLocker(20 * time.Millisecond)
	f := newFixture(t, WithLocker(locker))
	ctx := context.Background()
	ref := f.seed(t, draftIntervention("agreement-1"), domain.StatusDraft)
	f.attach(t, ref, domain.AttachmentSignedPD, "")

	release, err := locker.Acquire(ctx, ref)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: ref, Transition: "submit"})
	assert.True(t, domain.IsKind(err, domain.ErrKindBusy), "got %v", err)
	assert.Equal(t, domain.StatusDraft, f.get(t, ref).Head().Status)
	assert.Empty(t, f.svc.Store().History(ref))

	release()
	_, err = f.svc.Transition(ctx, TransitionRequest{Actor: pmActor, Ref: ref, Transition: "submit"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReview, f.get(t, ref).Head().Status)
	assert.Equal(t, 0, locker.Held())
}
