package client

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceCoach/internal/domain"
)

// Inbox holds at most one unprocessed broadcast. A new arrival overwrites
// whatever is pending; a consumer must Clear after handling a message so
// the same message is never handled twice.
type Inbox struct {
	mu    sync.Mutex
	msg   domain.BroadcastMessage
	full  bool
	seq   uint64
	ready chan struct{}
}

func NewInbox() *Inbox {
	return &Inbox{ready: make(chan struct{}, 1)}
}

func (in *Inbox) Deliver(msg domain.BroadcastMessage) {
	in.mu.Lock()
	in.msg = msg
	in.full = true
	in.seq++
	in.mu.Unlock()

	select {
	case in.ready <- struct{}{}:
	default:
	}
}

// Ready fires after one or more arrivals; notifications coalesce.
func (in *Inbox) Ready() <-chan struct{} { return in.ready }

// Pending returns the slot without clearing it.
func (in *Inbox) Pending() (domain.BroadcastMessage, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.msg, in.full
}

func (in *Inbox) Clear() {
	in.mu.Lock()
	in.msg = domain.BroadcastMessage{}
	in.full = false
	in.mu.Unlock()
}

func (in *Inbox) take() (domain.BroadcastMessage, uint64, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.msg, in.seq, in.full
}

// clearIf empties the slot unless a newer message arrived meanwhile.
func (in *Inbox) clearIf(seq uint64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.seq == seq {
		in.msg = domain.BroadcastMessage{}
		in.full = false
	}
}

// Run calls fn once per pending message until ctx is done.
func (in *Inbox) Run(ctx context.Context, fn func(domain.BroadcastMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.ready:
			msg, seq, ok := in.take()
			if !ok {
				continue
			}
			fn(msg)
			in.clearIf(seq)
		}
	}
}
