package contract

import (
	"testing"
	"time"
)

func TestConfirmationState(t *testing.T) {
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("first confirmation does not release", func(t *testing.T) {
		rec := Record{}
		release, already := confirmationState(&rec, RoleClient, at)
		if release || already {
			t.Fatalf("expected no release and no replay, got release=%v already=%v", release, already)
		}
		if !rec.ClientConfirmed || rec.ClientConfirmedAt == nil {
			t.Fatal("client confirmation not recorded")
		}
	})

	t.Run("second party completes the handshake", func(t *testing.T) {
		rec := Record{}
		confirmationState(&rec, RoleClient, at)
		release, already := confirmationState(&rec, RoleDoer, at)
		if !release || already {
			t.Fatalf("expected release on second confirmation, got release=%v already=%v", release, already)
		}
	})

	t.Run("repeat confirmation is a no-op", func(t *testing.T) {
		rec := Record{}
		confirmationState(&rec, RoleClient, at)
		firstAt := *rec.ClientConfirmedAt

		release, already := confirmationState(&rec, RoleClient, at.Add(time.Hour))
		if release || !already {
			t.Fatalf("expected idempotent replay, got release=%v already=%v", release, already)
		}
		if !rec.ClientConfirmedAt.Equal(firstAt) {
			t.Fatal("replay must not move the confirmation timestamp")
		}
	})

	t.Run("order does not matter", func(t *testing.T) {
		rec := Record{}
		confirmationState(&rec, RoleDoer, at)
		release, _ := confirmationState(&rec, RoleClient, at)
		if !release {
			t.Fatal("expected release regardless of confirmation order")
		}
	})
}

func TestRecord_Terminal(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusCancelled} {
		if !(Record{Status: st}).Terminal() {
			t.Errorf("expected %s to be terminal", st)
		}
	}
	for _, st := range []Status{StatusPending, StatusReady, StatusAccepted, StatusInProgress, StatusPendingConfirmation, StatusDisputed} {
		if (Record{Status: st}).Terminal() {
			t.Errorf("expected %s to be non-terminal", st)
		}
	}
}
