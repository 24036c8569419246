// internal/room/callbacks.go
package room

import (
	"sync"

	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
)

// EventCallbacks is one subscriber's set of handlers. Nil fields are skipped.
type EventCallbacks struct {
	OnRoomUpdate       func(room *models.SharedRoom)
	OnParticipantJoin  func(p models.RoomParticipant)
	OnParticipantLeave func(p models.RoomParticipant)
	OnReactionAdd      func(r models.Reaction)
	OnCountdownStart   func(seconds int)
	OnBoxOpened        func(result models.BoxOpenedResult)
	OnBetEvent         func(ev protocol.BetEvent)
	OnError            func(err error)
}

// merge copies every non-nil handler of partial over c.
func (c *EventCallbacks) merge(partial EventCallbacks) {
	if partial.OnRoomUpdate != nil {
		c.OnRoomUpdate = partial.OnRoomUpdate
	}
	if partial.OnParticipantJoin != nil {
		c.OnParticipantJoin = partial.OnParticipantJoin
	}
	if partial.OnParticipantLeave != nil {
		c.OnParticipantLeave = partial.OnParticipantLeave
	}
	if partial.OnReactionAdd != nil {
		c.OnReactionAdd = partial.OnReactionAdd
	}
	if partial.OnCountdownStart != nil {
		c.OnCountdownStart = partial.OnCountdownStart
	}
	if partial.OnBoxOpened != nil {
		c.OnBoxOpened = partial.OnBoxOpened
	}
	if partial.OnBetEvent != nil {
		c.OnBetEvent = partial.OnBetEvent
	}
	if partial.OnError != nil {
		c.OnError = partial.OnError
	}
}

// registry holds independent subscribers. Subscriber 0 is the mergeable default slot
// behind SetEventCallbacks.
type registry struct {
	mu     sync.Mutex
	subs   map[int]*EventCallbacks
	order  []int
	nextID int
}

func newRegistry() *registry {
	r := &registry{subs: make(map[int]*EventCallbacks), nextID: 1}
	r.subs[0] = &EventCallbacks{}
	r.order = []int{0}
	return r
}

func (r *registry) subscribe(cb EventCallbacks) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	c := cb
	r.subs[id] = &c
	r.order = append(r.order, id)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, id)
			for i, v := range r.order {
				if v == id {
					r.order = append(r.order[:i], r.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *registry) mergeDefault(partial EventCallbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[0].merge(partial)
}

// snapshot returns the subscribers in registration order. Handlers are invoked outside the lock
// so they may call back into the manager.
func (r *registry) snapshot() []EventCallbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventCallbacks, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.subs[id])
	}
	return out
}

func (r *registry) roomUpdate(room *models.SharedRoom) {
	for _, s := range r.snapshot() {
		if s.OnRoomUpdate != nil {
			s.OnRoomUpdate(room.Clone())
		}
	}
}

func (r *registry) participantJoin(p models.RoomParticipant) {
	for _, s := range r.snapshot() {
		if s.OnParticipantJoin != nil {
			s.OnParticipantJoin(p)
		}
	}
}

func (r *registry) participantLeave(p models.RoomParticipant) {
	for _, s := range r.snapshot() {
		if s.OnParticipantLeave != nil {
			s.OnParticipantLeave(p)
		}
	}
}

func (r *registry) reactionAdd(re models.Reaction) {
	for _, s := range r.snapshot() {
		if s.OnReactionAdd != nil {
			s.OnReactionAdd(re)
		}
	}
}

func (r *registry) countdownStart(seconds int) {
	for _, s := range r.snapshot() {
		if s.OnCountdownStart != nil {
			s.OnCountdownStart(seconds)
		}
	}
}

func (r *registry) boxOpened(res models.BoxOpenedResult) {
	for _, s := range r.snapshot() {
		if s.OnBoxOpened != nil {
			s.OnBoxOpened(res)
		}
	}
}

func (r *registry) betEvent(ev protocol.BetEvent) {
	for _, s := range r.snapshot() {
		if s.OnBetEvent != nil {
			s.OnBetEvent(ev)
		}
	}
}

func (r *registry) reportError(err error) {
	for _, s := range r.snapshot() {
		if s.OnError != nil {
			s.OnError(err)
		}
	}
}
