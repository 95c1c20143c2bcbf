// Package feed serves live, ordered views over appointments. A subscription
// receives the full snapshot when it opens and again after every committed
// change that matches its filter.
package feed

import (
	"context"
	"errors"
	"slices"
	"sync"

	"clinica/internal/events"
	"clinica/internal/logging"
	"clinica/internal/metrics"
	"clinica/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrHubClosed  = errors.New("feed hub is closed")
	ErrNilHandler = errors.New("feed handler is nil")
)

// Source re-reads appointments. An empty ownerID lists every owner.
type Source interface {
	ListAppointments(ctx context.Context, ownerID string) ([]*models.Appointment, error)
}

// Bus is where committed appointment changes are announced.
type Bus interface {
	Subscribe(handler events.EventHandler, eventTypes ...string) func()
}

// Filter scopes a feed. The zero value is the unscoped admin view.
type Filter struct {
	OwnerID string
}

func (f Filter) Admin() bool {
	return f.OwnerID == ""
}

func (f Filter) view() string {
	if f.Admin() {
		return "admin"
	}
	return "client"
}

func (f Filter) matches(ownerID string) bool {
	return f.Admin() || f.OwnerID == ownerID
}

// Handler receives a full replacement of the observed sequence.
type Handler func(snapshot []*models.Appointment)

// ErrorHandler is told about refreshes that failed; the feed keeps its
// last delivered snapshot.
type ErrorHandler func(err error)

type Option func(*Subscription)

func WithErrorHandler(fn ErrorHandler) Option {
	return func(s *Subscription) { s.onError = fn }
}

// Hub fans committed changes out to open subscriptions.
type Hub struct {
	source Source
	logger *zerolog.Logger

	mu          sync.Mutex
	subs        map[uint64]*Subscription
	nextID      uint64
	closed      bool
	unsubscribe func()
}

func NewHub(source Source, bus Bus, logger *zerolog.Logger) *Hub {
	h := &Hub{
		source: source,
		logger: logging.Component(logger, "feed"),
		subs:   make(map[uint64]*Subscription),
	}
	h.unsubscribe = bus.Subscribe(h.onChange, events.AppointmentEventTypes...)
	return h
}

// Subscribe opens a feed. It is closed by Subscription.Close or when ctx
// ends, whichever comes first.
func (h *Hub) Subscribe(ctx context.Context, filter Filter, handler Handler, opts ...Option) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := &Subscription{
		hub:     h,
		filter:  filter,
		handler: handler,
		dirty:   make(chan struct{}, models.FeedBufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()

	metrics.AddActiveFeeds(filter.view(), 1)
	h.logger.Debug().Uint64("subscription", sub.id).Str("view", filter.view()).Msg("feed opened")

	// Registered before the first read, so no committed change is missed.
	sub.notify()
	go sub.run(ctx)
	return sub, nil
}

// Active returns the number of open subscriptions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops listening for changes and closes every open subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	h.unsubscribe()
	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) onChange(event *events.Event) error {
	change, err := events.DecodeAppointmentChange(event)
	if err != nil {
		h.logger.Warn().Err(err).Str("event_type", event.Type).Msg("undecodable change, refreshing every feed")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if err != nil || s.filter.matches(change.OwnerID) {
			s.notify()
		}
	}
	return nil
}

func (h *Hub) remove(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return false
	}
	delete(h.subs, id)
	return true
}

// Subscription is one open feed. Deliveries are sequential; changes that
// arrive while a refresh is running are coalesced into the next one.
type Subscription struct {
	id      uint64
	hub     *Hub
	filter  Filter
	handler Handler
	onError ErrorHandler

	dirty   chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu       sync.RWMutex
	snapshot []*models.Appointment
}

// Snapshot returns the last delivered sequence.
func (s *Subscription) Snapshot() []*models.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshot)
}

// Done is closed once the subscription has stopped delivering.
func (s *Subscription) Done() <-chan struct{} {
	return s.stopped
}

// Close deregisters the subscription. Only the first call has an effect.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.hub.remove(s.id) {
			metrics.AddActiveFeeds(s.filter.view(), -1)
			s.hub.logger.Debug().Uint64("subscription", s.id).Msg("feed closed")
		}
	})
}

func (s *Subscription) notify() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.stopped)
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.dirty:
			s.refresh(ctx)
		}
	}
}

func (s *Subscription) refresh(ctx context.Context) {
	list, err := s.hub.source.ListAppointments(ctx, s.filter.OwnerID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.hub.logger.Error().Err(err).Uint64("subscription", s.id).Msg("feed refresh failed, keeping last snapshot")
		if s.onError != nil {
			s.onError(err)
		}
		return
	}

	snapshot := make([]*models.Appointment, 0, len(list))
	for _, a := range list {
		if s.filter.matches(a.OwnerID) {
			snapshot = append(snapshot, a)
		}
	}
	slices.SortStableFunc(snapshot, func(a, b *models.Appointment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()

	s.handler(slices.Clone(snapshot))
}
