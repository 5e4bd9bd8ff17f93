package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tejzpr/nameflow/internal/db"
)

func TestSubmitRecordsInitialHistory(t *testing.T) {
	svc, store := newTestService(t)

	req, err := svc.Submit(context.Background(), owner, SubmitInput{
		FormData: map[string]any{"proposed_name": "Falcon", "region": "EU"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, req.ID)
	require.Equal(t, string(StatusSubmitted), req.Status)
	require.Equal(t, "Falcon", req.Title)
	require.Equal(t, owner.ID, req.SubmitterID)

	stored := requireHistoryInvariant(t, store, req.ID)
	require.Len(t, stored.StatusHistory, 1)
	require.Equal(t, owner.ID, stored.StatusHistory[0].ChangedBy)
	require.Equal(t, "EU", stored.FormData["region"])
}

func TestSubmitTitleFallbacks(t *testing.T) {
	require.Equal(t, "Explicit", deriveTitle("  Explicit ", map[string]any{"title": "Form"}))
	require.Equal(t, "Form", deriveTitle("", map[string]any{"title": "Form", "name": "N"}))
	require.Equal(t, "N", deriveTitle("", map[string]any{"title": 42, "name": "N"}))
	require.Equal(t, untitled, deriveTitle("", nil))
}

func TestSubmitRejectsUnknownRole(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), Actor{ID: "x", Role: "guest"}, SubmitInput{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestScenarioReviewThenAdminCancel(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	req, err := svc.Submit(ctx, owner, SubmitInput{Title: "Falcon"})
	require.NoError(t, err)
	require.Equal(t, string(StatusSubmitted), req.Status)
	require.Len(t, req.StatusHistory, 1)

	req, err = svc.Transition(ctx, req.ID, StatusBrandReview, reviewer, TransitionInput{Comment: "picking this up"})
	require.NoError(t, err)
	require.Equal(t, string(StatusBrandReview), req.Status)
	require.Len(t, req.StatusHistory, 2)
	require.Equal(t, "picking this up", req.StatusHistory[1].Comment)
	require.Equal(t, reviewer.ID, req.StatusHistory[1].ChangedBy)

	_, err = svc.Transition(ctx, req.ID, StatusApproved, owner, TransitionInput{})
	require.ErrorIs(t, err, ErrInvalidTransition)

	req, err = svc.Transition(ctx, req.ID, StatusCancelled, admin, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, string(StatusCancelled), req.Status)
	require.Len(t, req.StatusHistory, 3)

	for _, to := range Statuses {
		for _, actor := range []Actor{owner, reviewer, admin} {
			_, err = svc.Transition(ctx, req.ID, to, actor, TransitionInput{})
			require.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	final := requireHistoryInvariant(t, store, req.ID)
	require.Len(t, final.StatusHistory, 3)
}

func TestFullPipelineToApproved(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	req, err := svc.Submit(ctx, owner, SubmitInput{Title: "Falcon"})
	require.NoError(t, err)

	notes := "trademark search clean"
	for _, to := range []Status{StatusBrandReview, StatusOnHold, StatusBrandReview, StatusLegalReview, StatusApproved} {
		req, err = svc.Transition(ctx, req.ID, to, reviewer, TransitionInput{ReviewNotes: &notes})
		require.NoError(t, err, to)
		requireHistoryInvariant(t, store, req.ID)
	}
	require.Len(t, req.StatusHistory, 6)
	require.Equal(t, notes, req.ReviewNotes)
}

func TestTransitionNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Transition(context.Background(), "does-not-exist", StatusBrandReview, reviewer, TransitionInput{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionUnknownRoleForbidden(t *testing.T) {
	svc, store := newTestService(t)
	req := seed(t, store, StatusSubmitted)
	_, err := svc.Transition(context.Background(), req.ID, StatusBrandReview, Actor{ID: "x", Role: "auditor"}, TransitionInput{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestTransitionInfrastructureErrorIsNotAKind(t *testing.T) {
	store := setupTestStore(t)
	req := seed(t, store, StatusSubmitted)
	svc := NewService(failingStore{store}, WithLogger(quietLogger()))

	_, err := svc.Transition(context.Background(), req.ID, StatusBrandReview, reviewer, TransitionInput{})
	require.Error(t, err)
	require.Equal(t, Kind(""), KindOf(err))
}

func TestConcurrentTransitionsOneWins(t *testing.T) {
	store := setupTestStore(t)
	req := seed(t, store, StatusSubmitted)
	svc := NewService(newBarrierStore(store, 2), WithLogger(quietLogger()))

	targets := []Status{StatusBrandReview, StatusOnHold}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to Status) {
			defer wg.Done()
			_, errs[i] = svc.Transition(context.Background(), req.ID, to, reviewer, TransitionInput{})
		}(i, to)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case KindOf(err) == KindConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)

	final := requireHistoryInvariant(t, store, req.ID)
	require.Len(t, final.StatusHistory, 2)
}

func TestTransitionNotifications(t *testing.T) {
	n := &recordingNotifier{}
	svc, store := newTestService(t, WithNotifier(n))
	ctx := context.Background()

	req := seed(t, store, StatusSubmitted)
	_, err := svc.Transition(ctx, req.ID, StatusBrandReview, reviewer, TransitionInput{Comment: "on it"})
	require.NoError(t, err)
	require.Equal(t, []string{owner.ID}, n.recipients())
	require.Equal(t, StatusSubmitted, n.sent[0].From)
	require.Equal(t, StatusBrandReview, n.sent[0].To)
	require.Equal(t, "on it", n.sent[0].Comment)

	// submitter holding an unclaimed request tells nobody
	_, err = svc.Transition(ctx, req.ID, StatusOnHold, owner, TransitionInput{})
	require.NoError(t, err)
	require.Len(t, n.sent, 1)

	claimed := seed(t, store, StatusBrandReview)
	_, err = svc.Claim(ctx, claimed.ID, reviewer)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, claimed.ID, StatusCancelled, owner, TransitionInput{Comment: "not needed"})
	require.NoError(t, err)
	require.Equal(t, []string{owner.ID, owner.ID, reviewer.ID}, n.recipients())
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	n := &recordingNotifier{err: context.DeadlineExceeded}
	svc, store := newTestService(t, WithNotifier(n))

	req := seed(t, store, StatusSubmitted)
	updated, err := svc.Transition(context.Background(), req.ID, StatusBrandReview, admin, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, string(StatusBrandReview), updated.Status)
	require.Len(t, n.sent, 1)

	stored := requireHistoryInvariant(t, store, req.ID)
	require.Equal(t, string(StatusBrandReview), stored.Status)
}

func TestClaimIdempotentForSameReviewer(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seed(t, store, StatusSubmitted)

	first, err := svc.Claim(ctx, req.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, reviewer.ID, first.AssignedReviewer)
	require.Equal(t, string(StatusSubmitted), first.Status)

	second, err := svc.Claim(ctx, req.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, reviewer.ID, second.AssignedReviewer)
	require.Equal(t, first.UpdatedAt.Unix(), second.UpdatedAt.Unix())

	stored := requireHistoryInvariant(t, store, req.ID)
	require.Len(t, stored.StatusHistory, 1)
}

func TestClaimByDifferentReviewerFails(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seed(t, store, StatusBrandReview)

	_, err := svc.Claim(ctx, req.ID, reviewer)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, req.ID, other)
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, reviewer.ID, stored.AssignedReviewer)
}

func TestClaimPreconditions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Claim(ctx, "missing", reviewer)
	require.ErrorIs(t, err, ErrNotFound)

	req := seed(t, store, StatusSubmitted)
	_, err = svc.Claim(ctx, req.ID, owner)
	require.ErrorIs(t, err, ErrForbidden)

	for _, st := range []Status{StatusOnHold, StatusCancelled, StatusApproved} {
		inactive := seed(t, store, st)
		_, err = svc.Claim(ctx, inactive.ID, reviewer)
		require.ErrorIs(t, err, ErrInvalidTransition, st)
	}
}

func TestConcurrentClaimsOneWins(t *testing.T) {
	svc, store := newTestService(t)
	req := seed(t, store, StatusSubmitted)

	reviewers := []Actor{reviewer, other, admin}
	errs := make([]error, len(reviewers))
	var wg sync.WaitGroup
	for i, actor := range reviewers {
		wg.Add(1)
		go func(i int, actor Actor) {
			defer wg.Done()
			_, errs[i] = svc.Claim(context.Background(), req.ID, actor)
		}(i, actor)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch KindOf(err) {
		case "":
			require.NoError(t, err)
			ok++
		case KindAlreadyClaimed:
			already++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 2, already)
}

func TestRelease(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seed(t, store, StatusSubmitted)

	unclaimed, err := svc.Release(ctx, req.ID, reviewer)
	require.NoError(t, err)
	require.Empty(t, unclaimed.AssignedReviewer)

	_, err = svc.Claim(ctx, req.ID, reviewer)
	require.NoError(t, err)

	_, err = svc.Release(ctx, req.ID, other)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Release(ctx, req.ID, owner)
	require.ErrorIs(t, err, ErrForbidden)

	released, err := svc.Release(ctx, req.ID, admin)
	require.NoError(t, err)
	require.Empty(t, released.AssignedReviewer)

	claimed, err := svc.Claim(ctx, req.ID, other)
	require.NoError(t, err)
	require.Equal(t, other.ID, claimed.AssignedReviewer)
}

func TestDeleteAdminOnly(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seed(t, store, StatusSubmitted)

	require.ErrorIs(t, svc.Delete(ctx, req.ID, reviewer), ErrForbidden)
	require.ErrorIs(t, svc.Delete(ctx, req.ID, owner), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, req.ID, admin))
	require.ErrorIs(t, svc.Delete(ctx, req.ID, admin), ErrNotFound)
}

func TestListFiltersAndValidatesStatus(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, StatusSubmitted)
	seed(t, store, StatusOnHold)

	held, err := svc.List(ctx, db.Filter{Status: string(StatusOnHold)})
	require.NoError(t, err)
	require.Len(t, held, 1)

	_, err = svc.List(ctx, db.Filter{Status: "rejected"})
	require.ErrorIs(t, err, ErrInvalidFilter)
	require.Empty(t, KindOf(err))
	require.Contains(t, err.Error(), `unknown status "rejected"`)
}

func TestClockIsUsedForHistory(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return fixed }))

	req, err := svc.Submit(context.Background(), owner, SubmitInput{Title: "Falcon"})
	require.NoError(t, err)
	require.True(t, req.StatusHistory[0].ChangedAt.Equal(fixed))
}
