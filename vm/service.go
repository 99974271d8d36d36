package vm

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Service: a single-threaded execution domain
// ---------------------------------------------------------------------------

// Messages delivered through a service mailbox.
type (
	// callMessage starts a fiber running method on this.
	callMessage struct {
		method *Method
		this   Handle
		args   []Handle
		chain  *CallChain
		future *FutureHandle

		// local results stay with the host and need not be shareable.
		local bool
	}
	// wakeMessage resumes a parked fiber.
	wakeMessage struct {
		fiber *Fiber
	}
	// alarmMessage runs fn on the service goroutine.
	alarmMessage struct {
		fn func()
	}
)

// Service owns a set of objects and runs every fiber touching them on one
// goroutine. Other services reach it only through its mailbox, which is
// processed in FIFO order.
type Service struct {
	ID   uuid.UUID
	Name string

	rt  *Runtime
	log commonlog.Logger

	mu      sync.Mutex
	mailbox []any
	closed  bool
	signal  chan struct{}
	quit    chan struct{}

	// Owned by the service goroutine.
	ready   []*Fiber
	waiting map[*Fiber]struct{}
}

func newService(rt *Runtime, name string) *Service {
	return &Service{
		ID:      uuid.New(),
		Name:    name,
		rt:      rt,
		log:     commonlog.GetLogger("xvm.service"),
		mailbox: make([]any, 0, rt.queueSize),
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		waiting: make(map[*Fiber]struct{}),
	}
}

// post appends msg to the mailbox. It reports false once the service has
// stopped.
func (s *Service) post(msg any) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mailbox = append(s.mailbox, msg)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

// stop closes the mailbox and ends the service loop.
func (s *Service) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)
}

func (s *Service) drain() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.mailbox
	s.mailbox = make([]any, 0, cap(msgs))
	return msgs
}

// loop processes the mailbox and runs ready fibers until stopped. An
// internal error in any fiber ends the loop with that error.
func (s *Service) loop(ctx context.Context) error {
	s.log.Debugf("service %s (%s) started", s.Name, s.ID)
	defer s.log.Debugf("service %s (%s) stopped", s.Name, s.ID)
	for {
		for _, msg := range s.drain() {
			s.dispatch(msg)
		}
		if len(s.ready) > 0 {
			select {
			case <-s.quit:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}
			fb := s.ready[0]
			s.ready = s.ready[1:]
			fb.run(s.rt.budget)
			switch {
			case fb.failure != nil:
				return fb.failure
			case fb.Done():
			case fb.Parked():
				s.waiting[fb] = struct{}{}
			default:
				s.ready = append(s.ready, fb)
			}
			continue
		}
		select {
		case <-s.signal:
		case <-s.quit:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Service) dispatch(msg any) {
	switch m := msg.(type) {
	case callMessage:
		fb := newFiber(s, m.method, m.this, m.args, m.chain, m.future)
		fb.shared = !m.local
		s.ready = append(s.ready, fb)
	case wakeMessage:
		if _, ok := s.waiting[m.fiber]; !ok {
			return
		}
		if p := m.fiber.parkedOn; p != nil && !p.Done() {
			return
		}
		delete(s.waiting, m.fiber)
		m.fiber.parkedOn = nil
		s.ready = append(s.ready, m.fiber)
	case alarmMessage:
		m.fn()
	}
}

// Runtime returns the runtime the service belongs to.
func (s *Service) Runtime() *Runtime { return s.rt }

// ---------------------------------------------------------------------------
// ServiceHandle
// ---------------------------------------------------------------------------

// ServiceHandle refers to the object of a service class. Calls from other
// services are turned into mailbox messages.
type ServiceHandle struct {
	svc *Service
	obj *ObjectHandle
}

func (*ServiceHandle) Kind() Kind      { return KindService }
func (*ServiceHandle) IsMutable() bool { return false }
func (h *ServiceHandle) String() string {
	return h.svc.Name + "@" + h.svc.ID.String()[:8]
}

// Service returns the owning service.
func (h *ServiceHandle) Service() *Service { return h.svc }
