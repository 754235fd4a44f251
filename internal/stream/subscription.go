package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// NonLogSeq marks frames that are not log records (bootstrap,
// heartbeat). Log-backed frames always carry seq >= 0.
const NonLogSeq int64 = -1

// Subscription is one subscriber's ordered frame feed.
//
// Frames accumulate in an unbounded queue so cascades of commits never
// block the engine; a pump goroutine drains the queue into the Events
// channel and interleaves heartbeats when delivery is silent.
//
// Thread-safety: push may be called from any goroutine (the engine
// publishes under resource locks); Events is read by one consumer.
type Subscription struct {
	id        string
	resources []ids.ResourceID
	heartbeat time.Duration
	now       func() time.Time
	mux       *Mux

	mu         sync.Mutex
	queue      []wire.Event
	watermarks map[ids.ResourceID]int64
	closed     bool

	signal chan struct{} // buffered size 1; queue non-empty
	done   chan struct{}
	out    chan wire.Event
	once   sync.Once
}

// NewSubscription creates a subscription and starts its pump. The
// caller preloads frames with Push, then attaches it to the mux.
//
// watermarks holds, per resource, the last seq the subscriber has
// already observed; frames at or below it are dropped. now stamps
// heartbeat frames.
func (m *Mux) NewSubscription(id string, resources []ids.ResourceID, watermarks map[ids.ResourceID]int64, heartbeat time.Duration, now func() time.Time) *Subscription {
	wm := make(map[ids.ResourceID]int64, len(resources))
	for r, seq := range watermarks {
		wm[r] = seq
	}
	s := &Subscription{
		id:         id,
		resources:  resources,
		heartbeat:  heartbeat,
		now:        now,
		mux:        m,
		watermarks: wm,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		out:        make(chan wire.Event),
	}
	go s.pump()
	return s
}

// ID returns the subscription id echoed in stream.opened.
func (s *Subscription) ID() string { return s.id }

// Events returns the frame channel. It is closed when the subscription
// is closed; no frames follow.
func (s *Subscription) Events() <-chan wire.Event { return s.out }

// Push enqueues a frame, subject to watermark dedup for log-backed
// frames. Used by the engine both for preload (bootstrap, backlog) and
// live publish.
func (s *Subscription) Push(ev wire.Event) {
	s.push(ev)
}

func (s *Subscription) push(ev wire.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ev.Seq != NonLogSeq {
		if last, ok := s.watermarks[ev.Resource]; ok && ev.Seq <= last {
			s.mu.Unlock()
			return
		}
		s.watermarks[ev.Resource] = ev.Seq
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Close cancels the subscription immediately and detaches it from the
// mux. Idempotent. Frames already handed to the transport may still
// arrive but carry no state-change obligations.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.mux.detach(s)
	})
}

// pop removes the head of the queue.
func (s *Subscription) pop() (wire.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return wire.Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// pump drains the queue into the out channel, emitting a heartbeat
// frame whenever no frame has flowed for the heartbeat interval.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if ev, ok := s.pop(); ok {
			select {
			case s.out <- ev:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case <-s.signal:
		case <-time.After(s.heartbeat):
			hb := s.heartbeatFrame()
			select {
			case s.out <- hb:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) heartbeatFrame() wire.Event {
	ts := wire.At(s.now())
	payload, _ := json.Marshal(wire.StreamHeartbeat{TS: ts})
	return wire.Event{
		Seq:     NonLogSeq,
		Type:    wire.TypeStreamHeartbeat,
		TS:      ts,
		Payload: payload,
	}
}
