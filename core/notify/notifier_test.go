package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/goleak"

	"drivechain/core/events"
)

type recorder struct {
	mu    sync.Mutex
	seqs  []uint64
	types []string
}

func (r *recorder) Observe(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, n.Sequence)
	r.types = append(r.types, n.Event.EventType())
	return nil
}

func (r *recorder) snapshot() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func note(seq uint64) Notification {
	return Notification{
		Sequence: seq,
		Time:     time.Unix(1_700_000_000, 0).UTC(),
		Event:    events.MultiplierChanged{ServiceType: "Oil Change", Multiplier: 2},
	}
}

func TestNotifierDeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := New()
	defer n.Close()

	rec := &recorder{}
	n.Subscribe("recorder", rec)
	n.Publish(note(1), note(2))
	n.Publish(note(3))
	n.Flush()

	got := rec.snapshot()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected delivery order %v", got)
	}
	if rec.types[0] != events.TypeMultiplierChanged {
		t.Fatalf("unexpected type %s", rec.types[0])
	}
}

func TestObserverFailuresAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := New()
	defer n.Close()

	n.Subscribe("panics", ObserverFunc(func(context.Context, Notification) error {
		panic("boom")
	}))
	n.Subscribe("errors", ObserverFunc(func(context.Context, Notification) error {
		return errors.New("unreachable sink")
	}))
	rec := &recorder{}
	n.Subscribe("recorder", rec)

	n.Publish(note(1), note(2))
	n.Flush()
	if got := rec.snapshot(); len(got) != 2 {
		t.Fatalf("healthy observer missed notifications: %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := New()
	defer n.Close()

	rec := &recorder{}
	sub := n.Subscribe("recorder", rec)
	n.Publish(note(1))
	n.Flush()
	sub.Unsubscribe()
	sub.Unsubscribe()
	if n.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", n.Subscribers())
	}
	n.Publish(note(2))
	n.Flush()
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("unsubscribed observer received %v", got)
	}
}

func TestSlowObserverDoesNotBlockPublish(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := New()

	release := make(chan struct{})
	n.Subscribe("slow", ObserverFunc(func(context.Context, Notification) error {
		<-release
		return nil
	}))

	published := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 100; i++ {
			n.Publish(Notification{Sequence: i, Event: events.VerifierStatusChanged{Verifier: common.Address{1}, Enabled: true}})
		}
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow observer")
	}
	close(release)
	n.Close()
}

func TestCloseDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := New()
	rec := &recorder{}
	n.Subscribe("recorder", rec)
	for i := uint64(1); i <= 10; i++ {
		n.Publish(note(i))
	}
	n.Close()
	if got := rec.snapshot(); len(got) != 10 {
		t.Fatalf("close dropped notifications: %v", got)
	}
	n.Publish(note(11))
	n.Close()
}
