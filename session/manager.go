package session

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
	"github.com/Sonket19/AI-Pitch-Lens/service"
)

// Watcher is the deal watch hub
type Watcher interface {
	Watch(dealID string, onChange func(*model.Deal), onError func(error)) *service.Subscription
}

// Manager owns the live workspaces and writes every change through to the Store
type Manager struct {
	store   Store
	advisor Advisor

	mu         sync.Mutex
	workspaces map[string]*Workspace
	follows    map[string]*follow
}

func NewManager(store Store, advisor Advisor) *Manager {
	return &Manager{
		store:      store,
		advisor:    advisor,
		workspaces: make(map[string]*Workspace),
		follows:    make(map[string]*follow),
	}
}

// Get returns the user's workspace, restoring it from the store on first use
func (m *Manager) Get(ctx context.Context, userID string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workspaces[userID]; ok {
		return w, nil
	}
	state, err := m.store.Load(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load workspace")
	}
	w := Restore(state)
	m.workspaces[userID] = w
	return w, nil
}

func (m *Manager) Save(ctx context.Context, userID string, w *Workspace) error {
	if err := m.store.Save(ctx, userID, w.Snapshot()); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to save workspace")
	}
	return nil
}

// Update runs fn on the user's workspace and saves it when fn succeeds
func (m *Manager) Update(ctx context.Context, userID string, fn func(w *Workspace) error) (*Workspace, error) {
	w, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	return w, m.Save(ctx, userID, w)
}

// Login opens the workspace for u. A workspace restored in a logged-in view
// keeps its view.
func (m *Manager) Login(ctx context.Context, u User) (*Workspace, error) {
	return m.Update(ctx, u.ID, func(w *Workspace) error {
		if w.View() != ViewLogin {
			return nil
		}
		return w.Login(u)
	})
}

func (m *Manager) Logout(ctx context.Context, userID string) error {
	m.Unfollow(userID)
	_, err := m.Update(ctx, userID, func(w *Workspace) error {
		w.Logout()
		return nil
	})
	return err
}

// Chat asks the advisor about the user's loaded analysis
func (m *Manager) Chat(ctx context.Context, userID, question string) (*model.ChatMessage, error) {
	w, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	msg, err := w.Chat(ctx, m.advisor, question)
	if err != nil {
		return nil, err
	}
	return msg, m.Save(ctx, userID, w)
}

// follow is one workspace watching the deal it submitted
type follow struct {
	dealID string
	mu     sync.Mutex
	sub    *service.Subscription
	done   bool
}

func (f *follow) attach(sub *service.Subscription) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	f.sub = sub
	f.mu.Unlock()
}

func (f *follow) stop() {
	f.mu.Lock()
	f.done = true
	sub := f.sub
	f.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Follow moves the user's analyzing workspace to viewing or back to upload
// as the watched deal reaches completed or error. A previous follow for the
// same user is cancelled.
func (m *Manager) Follow(ctx context.Context, userID, dealID string, watcher Watcher) error {
	w, err := m.Get(ctx, userID)
	if err != nil {
		return err
	}
	if w.View() != ViewAnalyzing || w.DealID() != dealID {
		return apperr.Wrapf(ErrInvalidTransition, apperr.CodeInvalidTransition, "workspace is not analyzing deal %s", dealID)
	}
	persona, weights := w.Persona()

	f := &follow{dealID: dealID}
	m.mu.Lock()
	prev := m.follows[userID]
	m.follows[userID] = f
	m.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	logCtx := logger.WithDeal(logger.WithUser(context.Background(), userID), dealID)
	onChange := func(d *model.Deal) {
		if w.View() != ViewAnalyzing || w.DealID() != dealID {
			f.stop()
			return
		}
		var err error
		switch {
		case d == nil:
			err = w.Fail("deal was deleted")
		case d.Status == model.StatusCompleted:
			err = w.Complete(HistoryItemFromDeal(d, persona, weights))
		case d.Status == model.StatusError:
			err = w.Fail(d.ErrorMessage)
		default:
			return
		}
		f.stop()
		if err != nil {
			logger.Warn(logCtx, "failed to apply deal result to workspace", "error", err)
			return
		}
		if err := m.Save(logCtx, userID, w); err != nil {
			logger.Error(logCtx, "failed to save workspace", "error", err)
		}
	}
	onError := func(err error) {
		logger.Warn(logCtx, "deal watch failed", "error", err)
		f.stop()
		if w.DealID() == dealID && w.Fail("failed to watch deal: "+apperr.Message(err)) == nil {
			if err := m.Save(logCtx, userID, w); err != nil {
				logger.Error(logCtx, "failed to save workspace", "error", err)
			}
		}
	}
	f.attach(watcher.Watch(dealID, onChange, onError))
	return nil
}

// Unfollow stops the user's deal follow, if any
func (m *Manager) Unfollow(userID string) {
	m.mu.Lock()
	f := m.follows[userID]
	delete(m.follows, userID)
	m.mu.Unlock()
	if f != nil {
		f.stop()
	}
}

// Close stops every follow and closes the store
func (m *Manager) Close() error {
	m.mu.Lock()
	follows := m.follows
	m.follows = make(map[string]*follow)
	m.mu.Unlock()
	for _, f := range follows {
		f.stop()
	}
	return m.store.Close()
}

// HistoryItemFromDeal turns a completed deal into a workspace history entry.
func HistoryItemFromDeal(d *model.Deal, persona model.Persona, weights *model.ScoreWeightings) *model.HistoryItem {
	item := &model.HistoryItem{
		ID:            uuid.NewString(),
		DealID:        d.ID,
		FileName:      d.Filename,
		Persona:       persona,
		CustomWeights: weights,
		Date:          d.UpdatedAt,
	}
	if item.Date.IsZero() {
		item.Date = time.Now()
	}
	if a, ok := model.StructuredFromSections(d.Analysis); ok {
		item.Analysis = a
	}
	sections := maps.Clone(d.Analysis)
	delete(sections, model.SectionStructured)
	if len(sections) > 0 {
		item.Sections = sections
	}
	return item
}
