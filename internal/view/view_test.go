package view

import (
	"context"
	"testing"
	"time"

	"github.com/Pugazh0602/shoadowchat/internal/protocol"
)

func TestVisibilityAcrossTTLBoundary(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	v := New()
	v.nowFn = func() time.Time { return now }

	msg := protocol.NewEnvelope("ciphertext", "alice", 30*time.Second, base)
	v.Add(Message{Envelope: msg, Plaintext: "hello"})

	now = base.Add(29*time.Second + 999*time.Millisecond)
	if got := v.Visible(); len(got) != 1 {
		t.Fatalf("expected message visible just before TTL, got %d", len(got))
	}

	now = base.Add(30 * time.Second)
	if got := v.Visible(); len(got) != 0 {
		t.Fatalf("expected message gone at exactly TTL, got %d", len(got))
	}
}

func TestMessageWithoutTTLNeverExpires(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	v := New()
	v.nowFn = func() time.Time { return now }

	v.Add(Message{Envelope: protocol.NewEnvelope("ct", "bob", 0, base)})

	now = base.Add(24 * time.Hour)
	if got := v.Visible(); len(got) != 1 {
		t.Fatalf("expected permanent message to stay visible, got %d", len(got))
	}
	if removed := v.removeExpired(now); removed != 0 {
		t.Fatalf("sweep removed %d permanent messages", removed)
	}
}

func TestSweepReclaimsExpiredMessages(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	v := New()
	v.nowFn = func() time.Time { return base }

	v.Add(Message{Envelope: protocol.NewEnvelope("a", "", 10*time.Second, base)})
	v.Add(Message{Envelope: protocol.NewEnvelope("b", "", 0, base)})
	v.Add(Message{Envelope: protocol.NewEnvelope("c", "", time.Minute, base)})

	removed := v.removeExpired(base.Add(30 * time.Second))
	if removed != 1 {
		t.Fatalf("expected 1 message reclaimed, got %d", removed)
	}
	if v.Len() != 2 {
		t.Fatalf("expected 2 retained messages, got %d", v.Len())
	}

	removed = v.removeExpired(base.Add(2 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 more message reclaimed, got %d", removed)
	}
	if v.Len() != 1 {
		t.Fatalf("expected only the permanent message, got %d", v.Len())
	}
}

func TestMarkRead(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	v := New()
	v.nowFn = func() time.Time { return base }

	env := protocol.NewEnvelope("ct", "carol", 0, base)
	v.Add(Message{Envelope: env})

	if !v.MarkRead(env.ID) {
		t.Fatal("expected MarkRead to find the message")
	}
	if v.MarkRead("missing-id") {
		t.Fatal("expected MarkRead to miss an unknown id")
	}
	if got := v.Visible(); !got[0].Read {
		t.Fatal("expected message flagged read")
	}
}

func TestSweeperStopsWithContext(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	v := New()
	v.nowFn = func() time.Time { return base.Add(time.Hour) }

	v.Add(Message{Envelope: protocol.NewEnvelope("ct", "", time.Second, base)})

	ctx, cancel := context.WithCancel(context.Background())
	v.StartSweeper(ctx, 5*time.Millisecond)

	deadline := time.After(time.Second)
	for v.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not reclaim expired message")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	// After cancellation new messages are untouched even when expired.
	time.Sleep(20 * time.Millisecond)
	v.Add(Message{Envelope: protocol.NewEnvelope("ct2", "", time.Second, base)})
	time.Sleep(20 * time.Millisecond)
	if v.Len() != 1 {
		t.Fatalf("expected sweeper stopped after cancel, retained %d", v.Len())
	}
}
