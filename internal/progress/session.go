package progress

import (
	"time"

	"github.com/shelfscan/backend/internal/domain"
)

// subscriberBuffer bounds how far a live listener may lag before events are
// dropped on the floor for that listener.
const subscriberBuffer = 16

// session owns one resolution's ordered event log plus its live listeners.
// Live delivery is coalesced into fixed-width time buckets: at most one event
// per interval reaches listeners, and only the latest pending event survives
// a bucket. The log itself keeps every event so polling reads stay coherent.
type session struct {
	id        string
	createdAt time.Time
	interval  time.Duration
	now       func() time.Time

	// guarded by the manager's mutex hierarchy: the manager locks the
	// session before touching any of the fields below.
	events        []domain.ProgressEvent
	lastTimestamp time.Time
	status        domain.SessionStatus
	finalized     bool
	finalizedAt   time.Time
	lastDetach    time.Time

	subscribers map[int]chan domain.ProgressEvent
	nextSubID   int

	pending      *domain.ProgressEvent
	flushTimer   *time.Timer
	lastDelivery time.Time

	// onFlush re-enters the manager so timer flushes run under its lock.
	onFlush func(sessionID string)
}

func newSession(id string, interval time.Duration, now func() time.Time) *session {
	return &session{
		id:          id,
		createdAt:   now(),
		interval:    interval,
		now:         now,
		status:      domain.SessionRunning,
		subscribers: make(map[int]chan domain.ProgressEvent),
	}
}

// append records one event in the log and hands it to live delivery. Event
// timestamps are strictly increasing within a session.
func (s *session) append(stage domain.Stage, message string, payload map[string]any) {
	ts := s.now()
	if !ts.After(s.lastTimestamp) {
		ts = s.lastTimestamp.Add(time.Microsecond)
	}
	s.lastTimestamp = ts

	event := domain.ProgressEvent{
		SessionID: s.id,
		Stage:     stage,
		Message:   message,
		Timestamp: ts,
		Payload:   payload,
	}
	s.events = append(s.events, event)

	if stage.Terminal() {
		s.finalize(stage, event)
		return
	}
	s.deliverCoalesced(event)
}

// finalize delivers the terminal event immediately (it must never be dropped
// by coalescing), then detaches every listener so streams end.
func (s *session) finalize(stage domain.Stage, event domain.ProgressEvent) {
	s.finalized = true
	s.finalizedAt = s.now()
	if stage == domain.StageComplete {
		s.status = domain.SessionComplete
	} else {
		s.status = domain.SessionFailed
	}

	s.stopFlushTimer()
	s.pending = nil
	s.broadcast(event)
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.lastDetach = s.finalizedAt
}

// deliverCoalesced sends the event live if the current bucket is free,
// otherwise parks it as the bucket's latest pending event.
func (s *session) deliverCoalesced(event domain.ProgressEvent) {
	now := s.now()
	if s.pending == nil && now.Sub(s.lastDelivery) >= s.interval {
		s.lastDelivery = now
		s.broadcast(event)
		return
	}

	s.pending = &event
	if s.flushTimer == nil {
		delay := s.lastDelivery.Add(s.interval).Sub(now)
		if delay <= 0 {
			delay = s.interval
		}
		flush := s.onFlush
		id := s.id
		s.flushTimer = time.AfterFunc(delay, func() {
			if flush != nil {
				flush(id)
			}
		})
	}
}

// flushPending delivers the parked event, if any. Called under the manager's
// lock via the flush timer.
func (s *session) flushPending() {
	s.flushTimer = nil
	if s.pending == nil || s.finalized {
		s.pending = nil
		return
	}
	event := *s.pending
	s.pending = nil
	s.lastDelivery = s.now()
	s.broadcast(event)
}

func (s *session) stopFlushTimer() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

// broadcast fans the event out without blocking; a full listener buffer
// drops the event for that listener only.
func (s *session) broadcast(event domain.ProgressEvent) {
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// subscribe attaches a live listener and returns the log so far, so a late
// listener can replay history before streaming.
func (s *session) subscribe() (backlog []domain.ProgressEvent, ch chan domain.ProgressEvent, id int) {
	backlog = make([]domain.ProgressEvent, len(s.events))
	copy(backlog, s.events)

	ch = make(chan domain.ProgressEvent, subscriberBuffer)
	if s.finalized {
		// The replay still counts as listener activity for reclaim purposes.
		close(ch)
		s.lastDetach = s.now()
		return backlog, ch, -1
	}
	id = s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	return backlog, ch, id
}

// unsubscribe detaches a listener without touching the in-flight resolution:
// disconnection tears down event delivery only.
func (s *session) unsubscribe(id int) {
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
	s.lastDetach = s.now()
}

func (s *session) snapshot() *domain.ProgressSnapshot {
	events := make([]domain.ProgressEvent, len(s.events))
	copy(events, s.events)
	return &domain.ProgressSnapshot{
		SessionID: s.id,
		Status:    s.status,
		Events:    events,
		Complete:  s.finalized,
	}
}

// reclaimable reports whether the session's buffers and listeners may be
// released: 5s (the idle TTL) after final-event emission or listener
// disconnection, whichever is later.
func (s *session) reclaimable(now time.Time, idleTTL time.Duration) bool {
	if !s.finalized {
		return false
	}
	deadline := s.finalizedAt
	if s.lastDetach.After(deadline) {
		deadline = s.lastDetach
	}
	return now.After(deadline.Add(idleTTL))
}
