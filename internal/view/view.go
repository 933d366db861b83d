// Package view holds a recipient's local copy of room messages and enforces
// their self-destruct lifecycle. Expiry is purely local: removing a message
// here has no effect on other participants or on the relay, which never held
// the message at all.
package view

import (
	"context"
	"sync"
	"time"

	"github.com/Pugazh0602/shoadowchat/internal/protocol"
)

// Message is one rendered entry in the local view. Undecryptable marks
// content that failed to open under the room key; it is flagged rather than
// displayed as garbage.
type Message struct {
	Envelope      protocol.Envelope
	Plaintext     string
	Undecryptable bool
	Read          bool
}

// View is the per-session message store swept by the expiry controller.
// A message is Visible until its TTL elapses, then gone; there is no way
// back. Messages without a TTL live for the life of the session.
type View struct {
	mu        sync.Mutex
	messages  []Message
	nowFn     func() time.Time
	sweepOnce sync.Once
}

// New creates an empty view.
func New() *View {
	return &View{nowFn: time.Now}
}

// Add appends a message in receipt order.
func (v *View) Add(msg Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, msg)
}

// MarkRead flags the first message with the given id as read, reporting
// whether one was found. Envelope ids are scoped to this view only.
func (v *View) MarkRead(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.messages {
		if v.messages[i].Envelope.ID == id {
			v.messages[i].Read = true
			return true
		}
	}
	return false
}

// Visible returns the messages whose TTL has not elapsed at call time. The
// sweep reclaims storage lazily; visibility is exact regardless of cadence.
func (v *View) Visible() []Message {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Message, 0, len(v.messages))
	for _, msg := range v.messages {
		if msg.Envelope.Expired(now) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Len returns the number of retained messages, including expired ones not
// yet reclaimed by the sweep.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.messages)
}

// StartSweeper launches the periodic expiry sweep. It must be cancelled with
// the session context or the ticker leaks.
func (v *View) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	v.sweepOnce.Do(func() {
		ticker := time.NewTicker(interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					v.removeExpired(v.now())
				}
			}
		}()
	})
}

func (v *View) removeExpired(now time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	kept := v.messages[:0]
	removed := 0
	for _, msg := range v.messages {
		if msg.Envelope.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	v.messages = kept
	return removed
}

func (v *View) now() time.Time {
	if v.nowFn != nil {
		return v.nowFn()
	}
	return time.Now()
}
