package service

import (
	"context"
	"sync"

	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

// DealGetter loads the current snapshot a new watcher starts from
type DealGetter interface {
	Get(ctx context.Context, id string) (*model.Deal, error)
}

// Hub fans deal changes out to live watchers. It is the ChangeNotifier the
// deal store reports to.
type Hub struct {
	mu     sync.Mutex
	source DealGetter
	subs   map[string]map[*Subscription]struct{}
}

var _ ChangeNotifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// SetSource sets the store initial snapshots are read from. The store is
// built with the hub as its notifier, so this happens after construction.
func (h *Hub) SetSource(source DealGetter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = source
}

// Watch delivers the current snapshot of dealID (nil if it does not exist)
// and then every later change, in order, on a goroutine owned by the
// subscription. When changes arrive faster than onChange returns, only the
// latest pending snapshot is delivered. onError may be nil.
func (h *Hub) Watch(dealID string, onChange func(*model.Deal), onError func(error)) *Subscription {
	s := &Subscription{
		hub:      h,
		dealID:   dealID,
		onChange: onChange,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[dealID] == nil {
		h.subs[dealID] = make(map[*Subscription]struct{})
	}
	h.subs[dealID][s] = struct{}{}
	source := h.source
	h.mu.Unlock()

	go s.run()

	if source == nil {
		s.offer(nil, true)
		return s
	}
	current, err := source.Get(context.Background(), dealID)
	switch {
	case err == nil:
		s.offer(current, true)
	case apperr.IsNotFound(err):
		s.offer(nil, true)
	default:
		s.offerErr(apperr.Wrapf(err, apperr.CodeSubscription, "failed to load deal %s", dealID))
	}
	return s
}

// Subscribe is the channel form of Watch used by streaming handlers. Both
// channels are closed once ctx is done and the subscription has stopped.
func (h *Hub) Subscribe(ctx context.Context, dealID string) (<-chan *model.Deal, <-chan error) {
	updates := make(chan *model.Deal, 1)
	errs := make(chan error, 1)

	sub := h.Watch(dealID, func(d *model.Deal) {
		select {
		case updates <- d:
		case <-ctx.Done():
		}
	}, func(err error) {
		select {
		case errs <- err:
		case <-ctx.Done():
		}
	})

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		<-sub.exited
		close(updates)
		close(errs)
	}()
	return updates, errs
}

// Notify hands snapshot to every watcher of dealID without blocking.
func (h *Hub) Notify(dealID string, snapshot *model.Deal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[dealID] {
		s.offer(snapshot.Clone(), false)
	}
}

// Count returns the number of live subscriptions for dealID
func (h *Hub) Count(dealID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[dealID])
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[s.dealID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.subs, s.dealID)
		}
	}
}

// Subscription is a single live watch on one deal
type Subscription struct {
	hub      *Hub
	dealID   string
	onChange func(*model.Deal)
	onError  func(error)

	mu         sync.Mutex
	closed     bool
	notified   bool
	hasPending bool
	pending    *model.Deal
	pendingErr error
	latest     *model.Deal

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// Unsubscribe stops delivery. It is idempotent and may be called from
// inside a callback, after which no further callback runs. From another
// goroutine a callback that was already being dispatched may still run;
// wait on Done after Unsubscribe when that matters.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.pendingErr = nil
		s.mu.Unlock()
		close(s.done)
		s.hub.remove(s)
	})
}

// Done is closed when the delivery goroutine has exited
func (s *Subscription) Done() <-chan struct{} {
	return s.exited
}

// offer stores d as the next snapshot to deliver. The initial snapshot is
// dropped if a change notification already arrived; snapshots older than
// the last accepted one are dropped.
func (s *Subscription) offer(d *model.Deal, initial bool) {
	s.mu.Lock()
	if s.closed || (initial && s.notified) {
		s.mu.Unlock()
		return
	}
	if !initial {
		s.notified = true
	}
	if d != nil && s.latest != nil && d.UpdatedAt.Before(s.latest.UpdatedAt) {
		s.mu.Unlock()
		return
	}
	s.pending = d
	s.hasPending = true
	s.latest = d
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) offerErr(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pendingErr = err
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		err := s.pendingErr
		d, has := s.pending, s.hasPending
		s.pendingErr, s.pending, s.hasPending = nil, nil, false
		s.mu.Unlock()

		if err != nil {
			if s.onError != nil && s.active() {
				s.onError(err)
			} else if s.onError == nil {
				logger.Warn(logger.WithDeal(context.Background(), s.dealID), "deal watch error", "error", err)
			}
		}
		if has && s.onChange != nil && s.active() {
			s.onChange(d)
		}
	}
}

func (s *Subscription) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}
