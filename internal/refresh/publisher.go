package refresh

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// EventType classifies a progress event.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Event is the wire-level progress notification pushed to subscribers and
// sinks.
type Event struct {
	Type            EventType `json:"type"`
	TeamID          uuid.UUID `json:"team_id"`
	State           State     `json:"state"`
	Phase           string    `json:"phase"`
	ProgressPercent int       `json:"progress_percent"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sink mirrors every event to an external transport. Deliveries run on a
// single background goroutine, so a slow sink delays other sinks but never
// the pipeline.
type Sink interface {
	Deliver(event Event)
}

// Subscription is one subscriber's view of a team's events. Events are
// dropped rather than queued unboundedly when the subscriber falls behind.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

const (
	subscriberBuffer = 16
	sinkQueueSize    = 256
)

// Publisher fans refresh status changes out to per-team subscribers and to
// registered sinks. While a team's run is active it also emits periodic
// heartbeats so transports with idle timeouts stay open during long waits.
type Publisher struct {
	clock     clockwork.Clock
	heartbeat time.Duration

	mu     sync.Mutex
	subs   map[uuid.UUID]map[int]chan Event
	nextID int
	loops  map[uuid.UUID]chan struct{}
	last   map[uuid.UUID]Event
	sinks  []Sink
	closed bool

	sinkQueue chan Event
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewPublisher builds a Publisher emitting heartbeats at the given interval.
func NewPublisher(clock clockwork.Clock, heartbeat time.Duration, sinks ...Sink) *Publisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	pub := &Publisher{
		clock:     clock,
		heartbeat: heartbeat,
		subs:      make(map[uuid.UUID]map[int]chan Event),
		loops:     make(map[uuid.UUID]chan struct{}),
		last:      make(map[uuid.UUID]Event),
		sinks:     sinks,
		sinkQueue: make(chan Event, sinkQueueSize),
		done:      make(chan struct{}),
	}
	pub.wg.Add(1)
	go pub.drainSinks()
	return pub
}

// Publish converts a status snapshot into an event and fans it out. It never
// blocks on subscribers or sinks.
func (pub *Publisher) Publish(teamID uuid.UUID, status *Status) {
	if status == nil {
		return
	}
	ev := eventFor(teamID, status)

	pub.mu.Lock()
	if pub.closed {
		pub.mu.Unlock()
		return
	}
	pub.last[teamID] = ev
	switch {
	case status.State == StateRunning:
		if _, ok := pub.loops[teamID]; !ok {
			stop := make(chan struct{})
			pub.loops[teamID] = stop
			pub.wg.Add(1)
			go pub.heartbeatLoop(teamID, stop)
		}
	default:
		if stop, ok := pub.loops[teamID]; ok {
			close(stop)
			delete(pub.loops, teamID)
		}
	}
	pub.mu.Unlock()

	pub.fanOut(ev)
}

// Subscribe attaches a subscriber to one team's event stream.
func (pub *Publisher) Subscribe(teamID uuid.UUID) *Subscription {
	ch := make(chan Event, subscriberBuffer)

	pub.mu.Lock()
	if pub.closed {
		pub.mu.Unlock()
		close(ch)
		return &Subscription{C: ch, cancel: func() {}}
	}
	pub.nextID++
	id := pub.nextID
	if pub.subs[teamID] == nil {
		pub.subs[teamID] = make(map[int]chan Event)
	}
	pub.subs[teamID][id] = ch
	pub.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			pub.mu.Lock()
			if subs, ok := pub.subs[teamID]; ok {
				if _, ok := subs[id]; ok {
					delete(subs, id)
					close(ch)
					if len(subs) == 0 {
						delete(pub.subs, teamID)
					}
				}
			}
			pub.mu.Unlock()
		},
	}
}

// Close stops heartbeats and the sink drain. Pending sink deliveries are
// flushed first.
func (pub *Publisher) Close() {
	pub.mu.Lock()
	if pub.closed {
		pub.mu.Unlock()
		return
	}
	pub.closed = true
	for teamID, stop := range pub.loops {
		close(stop)
		delete(pub.loops, teamID)
	}
	for teamID, subs := range pub.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(pub.subs, teamID)
	}
	pub.mu.Unlock()

	close(pub.done)
	pub.wg.Wait()
}

// heartbeatLoop repeats the team's latest snapshot as a heartbeat while the
// run is active. On stop it re-sends the terminal event once, so subscribers
// that missed a dropped delivery still observe the outcome.
func (pub *Publisher) heartbeatLoop(teamID uuid.UUID, stop chan struct{}) {
	defer pub.wg.Done()
	ticker := pub.clock.NewTicker(pub.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			pub.mu.Lock()
			last, ok := pub.last[teamID]
			pub.mu.Unlock()
			if ok && last.State.Terminal() {
				pub.fanOut(last)
			}
			return
		case <-pub.done:
			return
		case <-ticker.Chan():
			pub.mu.Lock()
			last, ok := pub.last[teamID]
			pub.mu.Unlock()
			if !ok || last.State != StateRunning {
				continue
			}
			hb := last
			hb.Type = EventHeartbeat
			hb.Timestamp = pub.clock.Now().UTC()
			pub.fanOut(hb)
		}
	}
}

func (pub *Publisher) fanOut(ev Event) {
	pub.mu.Lock()
	for _, ch := range pub.subs[ev.TeamID] {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("component", "publisher").Str("team_id", ev.TeamID.String()).
				Msg("subscriber behind, dropping event")
		}
	}
	pub.mu.Unlock()

	select {
	case pub.sinkQueue <- ev:
	default:
		log.Warn().Str("component", "publisher").Str("team_id", ev.TeamID.String()).
			Msg("sink queue full, dropping event")
	}
}

func (pub *Publisher) drainSinks() {
	defer pub.wg.Done()
	for {
		select {
		case ev := <-pub.sinkQueue:
			for _, sink := range pub.sinks {
				sink.Deliver(ev)
			}
		case <-pub.done:
			for {
				select {
				case ev := <-pub.sinkQueue:
					for _, sink := range pub.sinks {
						sink.Deliver(ev)
					}
				default:
					return
				}
			}
		}
	}
}

func eventFor(teamID uuid.UUID, status *Status) Event {
	ev := Event{
		Type:            EventProgress,
		TeamID:          teamID,
		State:           status.State,
		Phase:           status.Phase,
		ProgressPercent: status.ProgressPercent,
		Error:           status.ErrorMessage,
		Timestamp:       status.UpdatedAt.UTC(),
	}
	switch status.State {
	case StateCompleted:
		ev.Type = EventComplete
	case StateFailed:
		ev.Type = EventError
	}
	return ev
}
