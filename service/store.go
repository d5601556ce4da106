package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/oklog/ulid/v2"
)

// DefaultListLimit bounds ListRecentByOwner when the caller passes 0
const DefaultListLimit = 10

// ChangeNotifier is told about every committed mutation. snapshot is nil when
// the deal was deleted. Implementations must not block or call back into the store.
type ChangeNotifier interface {
	Notify(dealID string, snapshot *model.Deal)
}

// DealStore persists deal records. Every method returns snapshots the caller
// may keep; mutating them does not affect the store.
type DealStore interface {
	Create(ctx context.Context, deal *model.Deal) (string, error)
	Get(ctx context.Context, id string) (*model.Deal, error)
	ListRecentByOwner(ctx context.Context, userID string, limit int) ([]*model.Deal, error)
	// ListByStatus returns every deal in one of the given statuses, oldest first.
	ListByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Deal, error)
	// Update runs fn on a copy of the record and commits it if the resulting
	// status transition and record invariants hold. Last write wins.
	Update(ctx context.Context, id string, fn func(*model.Deal) error) (*model.Deal, error)
	Delete(ctx context.Context, id string) error
}

// NewDealID returns a new lexically sortable deal id
func NewDealID() string {
	return ulid.Make().String()
}

func errDealNotFound(id string) error {
	return apperr.Newf(apperr.CodeNotFound, "deal %s not found", id)
}

// prepareCreate normalizes a new record: fresh id if missing, status uploaded, no results.
func prepareCreate(deal *model.Deal, now time.Time) (*model.Deal, error) {
	if deal == nil {
		return nil, apperr.New(apperr.CodeValidation, "deal is required")
	}
	if deal.UserID == "" || deal.Filename == "" || deal.StoragePath == "" {
		return nil, apperr.New(apperr.CodeValidation, "deal requires userId, filename and storagePath")
	}
	d := deal.Clone()
	if d.ID == "" {
		d.ID = NewDealID()
	}
	d.Status = model.StatusUploaded
	d.ErrorMessage = ""
	d.Analysis = nil
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	return d, nil
}

// applyUpdate runs fn against a copy of current and checks the result.
func applyUpdate(current *model.Deal, fn func(*model.Deal) error, now time.Time) (*model.Deal, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.UserID = current.UserID
	next.CreatedAt = current.CreatedAt

	if !current.Status.CanTransition(next.Status) {
		return nil, apperr.Newf(apperr.CodeInvalidTransition, "deal %s cannot move from %s to %s", current.ID, current.Status, next.Status)
	}
	if err := next.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid deal record")
	}
	next.UpdatedAt = now
	return next, nil
}

// MemoryStore is an in-memory DealStore. It keeps at most maxDeals records,
// evicting the oldest by creation time.
type MemoryStore struct {
	deals    map[string]*model.Deal
	mu       sync.RWMutex
	maxDeals int // 0 = unlimited
	notifier ChangeNotifier
	now      func() time.Time
}

var _ DealStore = (*MemoryStore)(nil)

func NewMemoryStore(maxDeals int, notifier ChangeNotifier) *MemoryStore {
	if maxDeals < 0 {
		maxDeals = 0
	}
	slog.Info("deal store initialized", "driver", "memory", "max_deals", maxDeals)
	return &MemoryStore{
		deals:    make(map[string]*model.Deal),
		maxDeals: maxDeals,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, deal *model.Deal) (string, error) {
	d, err := prepareCreate(deal, s.now())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deals[d.ID]; exists {
		return "", apperr.Newf(apperr.CodeValidation, "deal %s already exists", d.ID)
	}
	s.deals[d.ID] = d
	s.notify(d.ID, d)
	s.cleanupIfNeeded()
	return d.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, errDealNotFound(id)
	}
	return d.Clone(), nil
}

// ListRecentByOwner returns the owner's newest deals first
func (s *MemoryStore) ListRecentByOwner(ctx context.Context, userID string, limit int) ([]*model.Deal, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	var result []*model.Deal
	for _, d := range s.deals {
		if d.UserID == userID {
			result = append(result, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Deal, error) {
	want := make(map[model.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	var result []*model.Deal
	for _, d := range s.deals {
		if want[d.Status] {
			result = append(result, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*model.Deal) error) (*model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.deals[id]
	if !ok {
		return nil, errDealNotFound(id)
	}
	next, err := applyUpdate(current, fn, s.now())
	if err != nil {
		return nil, err
	}
	s.deals[id] = next
	s.notify(id, next)
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deals[id]; !ok {
		return errDealNotFound(id)
	}
	delete(s.deals, id)
	s.notify(id, nil)
	return nil
}

// Count returns the number of deals in the store
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deals)
}

// notify must be called with the lock held so notifications keep commit order.
func (s *MemoryStore) notify(id string, d *model.Deal) {
	if s.notifier != nil {
		s.notifier.Notify(id, d.Clone())
	}
}

// cleanupIfNeeded removes oldest deals if store exceeds maxDeals
// Must be called with lock held
func (s *MemoryStore) cleanupIfNeeded() {
	if s.maxDeals <= 0 || len(s.deals) <= s.maxDeals {
		return
	}

	deals := make([]*model.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		deals = append(deals, d)
	}
	sort.Slice(deals, func(i, j int) bool {
		return deals[i].CreatedAt.Before(deals[j].CreatedAt)
	})

	removeCount := len(deals) - s.maxDeals
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old deal",
			"deal_id", deals[i].ID,
			"created_at", deals[i].CreatedAt,
		)
		delete(s.deals, deals[i].ID)
		s.notify(deals[i].ID, nil)
	}
}
