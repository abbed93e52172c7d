package accountstate

import (
	"context"
	"testing"
	"time"

	"github.com/ManuelReschke/MemberFox/internal/pkg/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginToStatusUnknown(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.SubmitCredentials(ctx))
	require.NoError(t, s.AuthSucceeded(ctx))
	require.Equal(t, StateStatusUnknown.Name(), s.State())
	return s
}

func TestLoginFlow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	assert.Equal(t, StateAnonymous.Name(), s.State())
	require.NoError(t, s.SubmitCredentials(ctx))
	assert.Equal(t, StateAuthenticating.Name(), s.State())
	require.NoError(t, s.AuthSucceeded(ctx))
	assert.Equal(t, StateStatusUnknown.Name(), s.State())
}

func TestStatusResolutionTiers(t *testing.T) {
	tests := []struct {
		name string
		view *billing.StatusView
		want string
	}{
		{"free", &billing.StatusView{Active: false, Message: "Free account"}, StateFree.Name()},
		{"premium", &billing.StatusView{Active: true, Message: "Premium"}, StatePremium.Name()},
		{"canceling", &billing.StatusView{Active: true, CancelAtPeriodEnd: true}, StatePremiumCanceling.Name()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loginToStatusUnknown(t)
			seq := s.BeginStatusCheck()

			applied, err := s.ApplyStatus(context.Background(), seq, tt.view)
			require.NoError(t, err)
			assert.True(t, applied)
			assert.Equal(t, tt.want, s.State())
			assert.Equal(t, tt.view, s.Status())
		})
	}
}

func TestStaleStatusResponseDiscarded(t *testing.T) {
	s := loginToStatusUnknown(t)
	ctx := context.Background()

	timerSeq := s.BeginStatusCheck()
	actionSeq := s.BeginStatusCheck()

	// The user-triggered check resolves first.
	applied, err := s.ApplyStatus(ctx, actionSeq, &billing.StatusView{Active: true})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, StatePremium.Name(), s.State())

	// The slower timer-driven check must not overwrite it.
	applied, err = s.ApplyStatus(ctx, timerSeq, &billing.StatusView{Active: false})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatePremium.Name(), s.State())
	assert.True(t, s.Status().Active)
}

func TestStaleStatusErrorDiscarded(t *testing.T) {
	s := loginToStatusUnknown(t)
	ctx := context.Background()

	timerSeq := s.BeginStatusCheck()
	actionSeq := s.BeginStatusCheck()

	applied, err := s.ApplyStatus(ctx, actionSeq, &billing.StatusView{Active: true})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.ApplyStatusError(ctx, timerSeq, "error checking status")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatePremium.Name(), s.State())
	assert.Empty(t, s.ErrorMessage())
}

func TestStatusErrorEntersErrorState(t *testing.T) {
	s := loginToStatusUnknown(t)
	seq := s.BeginStatusCheck()

	applied, err := s.ApplyStatusError(context.Background(), seq, "error checking status")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StateError.Name(), s.State())
	assert.Equal(t, "error checking status", s.ErrorMessage())
	// A failed check never reports a tier.
	assert.Nil(t, s.Status())
}

func TestSuccessfulRefreshClearsError(t *testing.T) {
	s := loginToStatusUnknown(t)
	ctx := context.Background()

	seq := s.BeginStatusCheck()
	_, err := s.ApplyStatusError(ctx, seq, "error checking status")
	require.NoError(t, err)
	require.Equal(t, StateError.Name(), s.State())

	seq = s.BeginStatusCheck()
	applied, err := s.ApplyStatus(ctx, seq, &billing.StatusView{Active: false})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StateFree.Name(), s.State())
	assert.Empty(t, s.ErrorMessage())
}

func TestErrorBannerAutoDismiss(t *testing.T) {
	s := loginToStatusUnknown(t)
	ctx := context.Background()

	seq := s.BeginStatusCheck()
	_, err := s.ApplyStatusError(ctx, seq, "error checking status")
	require.NoError(t, err)

	// Before the dismiss deadline nothing happens.
	s.Tick(ctx, time.Now())
	assert.Equal(t, StateError.Name(), s.State())

	s.Tick(ctx, time.Now().Add(errorAutoDismiss+time.Second))
	assert.Equal(t, StateStatusUnknown.Name(), s.State())
	assert.Empty(t, s.ErrorMessage())
}

func TestAuthFailedDismissesToAnonymous(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.SubmitCredentials(ctx))
	require.NoError(t, s.AuthFailed(ctx, "Invalid credentials"))
	assert.Equal(t, StateError.Name(), s.State())

	s.Tick(ctx, time.Now().Add(errorAutoDismiss+time.Second))
	assert.Equal(t, StateAnonymous.Name(), s.State())
}

// A retried login while the failure banner is still up must run the full
// submit/fail cycle again and replace the banner text.
func TestRetriedLoginAfterFailureUpdatesBanner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.SubmitCredentials(ctx))
	require.NoError(t, s.AuthFailed(ctx, "E-Mail oder Passwort ist falsch"))
	assert.Equal(t, StateError.Name(), s.State())

	require.NoError(t, s.SubmitCredentials(ctx))
	assert.Equal(t, StateAuthenticating.Name(), s.State())
	require.NoError(t, s.AuthFailed(ctx, "Bitte bestätige zuerst deine E-Mail-Adresse"))
	assert.Equal(t, StateError.Name(), s.State())
	assert.Equal(t, "Bitte bestätige zuerst deine E-Mail-Adresse", s.ErrorMessage())

	// The retry can also succeed from the banner.
	require.NoError(t, s.SubmitCredentials(ctx))
	require.NoError(t, s.AuthSucceeded(ctx))
	assert.Equal(t, StateStatusUnknown.Name(), s.State())
	assert.Empty(t, s.ErrorMessage())
}

func TestFatalIdentityErrorForcesLogout(t *testing.T) {
	s := loginToStatusUnknown(t)
	ctx := context.Background()

	seq := s.BeginStatusCheck()
	applied, err := s.ApplyStatus(ctx, seq, &billing.StatusView{Active: true})
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, s.FatalIdentityError(ctx, "Session expired"))
	assert.Equal(t, StateError.Name(), s.State())

	loggedOut := s.Tick(ctx, time.Now().Add(fatalLogoutDelay+time.Second))
	assert.True(t, loggedOut)
	assert.Equal(t, StateAnonymous.Name(), s.State())
	assert.Nil(t, s.Status())
}

func TestLogoutFromAnyState(t *testing.T) {
	s := loginToStatusUnknown(t)
	ctx := context.Background()

	seq := s.BeginStatusCheck()
	_, err := s.ApplyStatus(ctx, seq, &billing.StatusView{Active: true})
	require.NoError(t, err)

	s.Logout(ctx)
	assert.Equal(t, StateAnonymous.Name(), s.State())
	assert.Nil(t, s.Status())
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := loginToStatusUnknown(t)
	ctx := context.Background()

	seq := s.BeginStatusCheck()
	_, err := s.ApplyStatus(ctx, seq, &billing.StatusView{Active: true, Message: "Premium"})
	require.NoError(t, err)

	restored := RestoreJSON(s.SnapshotJSON())
	assert.Equal(t, StatePremium.Name(), restored.State())
	require.NotNil(t, restored.Status())
	assert.Equal(t, "Premium", restored.Status().Message)

	// A stale in-flight response from before the snapshot stays stale.
	applied, err := restored.ApplyStatus(ctx, seq, &billing.StatusView{Active: false})
	require.NoError(t, err)
	assert.False(t, applied)
}

// Two overlapping requests of one session each restore their own copy of the
// snapshot. The request finishing last must not persist an older applied
// result; applying against a re-read snapshot plus the NewerSnapshotJSON
// write guard keeps the newest result regardless of finish order.
func TestOverlappingRefreshKeepsNewestResult(t *testing.T) {
	ctx := context.Background()
	persisted := loginToStatusUnknown(t).SnapshotJSON()

	// The timer poll begins its check first and goes on the wire.
	timer := RestoreJSON(persisted)
	timerSeq := timer.BeginStatusCheck()
	persisted = NewerSnapshotJSON(persisted, timer.SnapshotJSON())

	// A user action begins afterwards and finishes while the poll is slow.
	action := RestoreJSON(persisted)
	actionSeq := action.BeginStatusCheck()
	persisted = NewerSnapshotJSON(persisted, action.SnapshotJSON())

	actionLatest := RestoreJSON(persisted)
	applied, err := actionLatest.ApplyStatus(ctx, actionSeq, &billing.StatusView{Active: true, Message: "Premium"})
	require.NoError(t, err)
	require.True(t, applied)
	persisted = NewerSnapshotJSON(persisted, actionLatest.SnapshotJSON())

	// The slow poll result arrives last. Re-reading the snapshot makes its
	// guard compare against the action's appliedSeq and discard the result.
	timerLatest := RestoreJSON(persisted)
	applied, err = timerLatest.ApplyStatus(ctx, timerSeq, &billing.StatusView{Active: false, Message: "Free account"})
	require.NoError(t, err)
	assert.False(t, applied)
	persisted = NewerSnapshotJSON(persisted, timerLatest.SnapshotJSON())

	final := RestoreJSON(persisted)
	assert.Equal(t, StatePremium.Name(), final.State())
	require.NotNil(t, final.Status())
	assert.Equal(t, "Premium", final.Status().Message)
}

func TestNewerSnapshotJSON(t *testing.T) {
	s := loginToStatusUnknown(t)
	ctx := context.Background()

	stale := RestoreJSON(s.SnapshotJSON())
	staleSeq := stale.BeginStatusCheck()

	fresh := RestoreJSON(s.SnapshotJSON())
	_ = fresh.BeginStatusCheck()
	freshSeq := fresh.BeginStatusCheck()
	_, err := fresh.ApplyStatus(ctx, freshSeq, &billing.StatusView{Active: true, Message: "Premium"})
	require.NoError(t, err)

	_, err = stale.ApplyStatus(ctx, staleSeq, &billing.StatusView{Active: false, Message: "Free account"})
	require.NoError(t, err)

	// A candidate with an older applied result never replaces the persisted one.
	kept := RestoreJSON(NewerSnapshotJSON(fresh.SnapshotJSON(), stale.SnapshotJSON()))
	assert.Equal(t, StatePremium.Name(), kept.State())

	// Sequence numbers handed out by a concurrent request survive the merge.
	withSeqs := RestoreJSON(s.SnapshotJSON())
	_ = withSeqs.BeginStatusCheck()
	_ = withSeqs.BeginStatusCheck()
	_ = withSeqs.BeginStatusCheck()
	merged := RestoreJSON(NewerSnapshotJSON(withSeqs.SnapshotJSON(), s.SnapshotJSON()))
	assert.Equal(t, uint64(4), merged.BeginStatusCheck())

	// Garbage candidates never clobber a good snapshot.
	assert.Equal(t, s.SnapshotJSON(), NewerSnapshotJSON(s.SnapshotJSON(), ""))
	assert.Equal(t, s.SnapshotJSON(), NewerSnapshotJSON(s.SnapshotJSON(), "{not json"))
}

func TestRestoreGarbageFallsBackToAnonymous(t *testing.T) {
	assert.Equal(t, StateAnonymous.Name(), RestoreJSON("").State())
	assert.Equal(t, StateAnonymous.Name(), RestoreJSON("{not json").State())
	assert.Equal(t, StateAnonymous.Name(), RestoreJSON(`{"state":"bogus"}`).State())
}
