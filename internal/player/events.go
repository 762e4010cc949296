package player

import "sync"

const subscriptionBuffer = 16

// Ended is delivered once per track when playback stops on its own.
type Ended struct {
	Path   string
	Reason EndReason
	Err    error
}

// StatusChanged reports a non-fatal change such as an exclusive-mode
// downgrade.
type StatusChanged struct {
	Message    string
	BitPerfect bool
}

// ErrorEvent reports a failed command.
type ErrorEvent struct {
	Operation string
	Path      string
	Err       error
}

// Subscription receives engine events. Sends never block: a subscriber
// that falls behind loses events. Done is closed when the engine closes or
// the subscription is cancelled.
type Subscription struct {
	StateChanged chan State
	Ended        chan Ended
	Status       chan StatusChanged
	Errors       chan ErrorEvent
	Done         chan struct{}

	hub  *hub
	once sync.Once
}

// Cancel stops delivery and closes Done.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.Done) })
}

type hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe() *Subscription {
	s := &Subscription{
		StateChanged: make(chan State, subscriptionBuffer),
		Ended:        make(chan Ended, subscriptionBuffer),
		Status:       make(chan StatusChanged, subscriptionBuffer),
		Errors:       make(chan ErrorEvent, subscriptionBuffer),
		Done:         make(chan struct{}),
		hub:          h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.close()
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

func (h *hub) each(fn func(s *Subscription)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		fn(s)
	}
}

func (h *hub) state(st State) {
	h.each(func(s *Subscription) {
		select {
		case s.StateChanged <- st:
		default:
		}
	})
}

func (h *hub) ended(ev Ended) {
	h.each(func(s *Subscription) {
		select {
		case s.Ended <- ev:
		default:
		}
	})
}

func (h *hub) status(ev StatusChanged) {
	h.each(func(s *Subscription) {
		select {
		case s.Status <- ev:
		default:
		}
	})
}

func (h *hub) error(ev ErrorEvent) {
	h.each(func(s *Subscription) {
		select {
		case s.Errors <- ev:
		default:
		}
	})
}

func (h *hub) close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.closed = true
	h.mu.Unlock()
	for s := range subs {
		s.close()
	}
}
