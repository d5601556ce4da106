// Package session keeps each investor's workspace: which view they are on,
// the analysis they are looking at, their persona and their chat with the
// analyst assistant.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Sonket19/AI-Pitch-Lens/ai"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
)

type View string

const (
	ViewLogin     View = "login"
	ViewUpload    View = "upload"
	ViewAnalyzing View = "analyzing"
	ViewViewing   View = "viewing"
)

type Tab string

const (
	TabExecutiveSummary Tab = "Executive Summary"
	TabRiskAssessment   Tab = "Risk Assessment"
	TabIndustryAnalysis Tab = "Industry Analysis"
	TabFinancials       Tab = "Financials"
	TabFounderConnect   Tab = "Founder Connect"
	TabChatbot          Tab = "Chatbot"
)

// Tabs in display order
var Tabs = []Tab{TabExecutiveSummary, TabRiskAssessment, TabIndustryAnalysis, TabFinancials, TabFounderConnect, TabChatbot}

func (t Tab) Valid() bool {
	for _, v := range Tabs {
		if v == t {
			return true
		}
	}
	return false
}

// MaxHistory bounds the analyses kept per investor
const MaxHistory = 50

// ErrInvalidTransition is returned, wrapped with INVALID_TRANSITION, when an
// operation is not allowed in the current view.
var ErrInvalidTransition = errors.New("invalid view transition")

func invalidTransition(op string, from View) error {
	return apperr.Wrapf(ErrInvalidTransition, apperr.CodeInvalidTransition, "cannot %s from the %s view", op, from)
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// State is the serializable form of a workspace
type State struct {
	User             *User                   `json:"user,omitempty"`
	View             View                    `json:"view"`
	Tab              Tab                     `json:"tab,omitempty"`
	Current          *model.HistoryItem      `json:"current,omitempty"`
	DealID           string                  `json:"dealId,omitempty"`
	Error            string                  `json:"error,omitempty"`
	Persona          model.Persona           `json:"persona"`
	CustomWeights    *model.ScoreWeightings  `json:"customWeights,omitempty"`
	FounderResponses []model.FounderResponse `json:"founderResponses,omitempty"`
	Chat             []model.ChatMessage     `json:"chat,omitempty"`
	History          []model.HistoryItem     `json:"history,omitempty"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

// Advisor answers chat questions about the loaded analysis
type Advisor interface {
	Advise(ctx context.Context, req ai.ChatRequest) (string, error)
}

// Workspace is one investor's view state. All methods are safe for
// concurrent use; failed operations leave the state untouched.
type Workspace struct {
	mu     sync.Mutex
	chatMu sync.Mutex

	user             *User
	view             View
	tab              Tab
	current          *model.HistoryItem
	dealID           string
	errMsg           string
	persona          model.Persona
	weights          *model.ScoreWeightings
	founderResponses []model.FounderResponse
	transcript       *model.Transcript
	history          []model.HistoryItem
	updatedAt        time.Time
}

// NewWorkspace returns a logged-out workspace with the default persona
func NewWorkspace() *Workspace {
	return &Workspace{
		view:       ViewLogin,
		persona:    model.PersonaSaaS,
		transcript: model.NewTranscript(nil),
		updatedAt:  time.Now(),
	}
}

// Restore rebuilds a workspace from saved state
func Restore(s *State) *Workspace {
	w := NewWorkspace()
	if s == nil {
		return w
	}
	w.user = s.User
	if s.View != "" {
		w.view = s.View
	}
	if w.user == nil {
		w.view = ViewLogin
	}
	w.tab = s.Tab
	w.current = s.Current
	w.dealID = s.DealID
	w.errMsg = s.Error
	if s.Persona != "" {
		w.persona = s.Persona
	}
	w.weights = s.CustomWeights
	w.founderResponses = append(w.founderResponses, s.FounderResponses...)
	w.transcript = model.NewTranscript(s.Chat)
	w.history = append(w.history, s.History...)
	w.updatedAt = s.UpdatedAt
	return w
}

// Snapshot returns a copy of the current state
func (w *Workspace) Snapshot() *State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Workspace) snapshotLocked() *State {
	s := &State{
		View:             w.view,
		Tab:              w.tab,
		DealID:           w.dealID,
		Error:            w.errMsg,
		Persona:          w.persona,
		FounderResponses: append([]model.FounderResponse(nil), w.founderResponses...),
		Chat:             w.transcript.Messages(),
		History:          append([]model.HistoryItem(nil), w.history...),
		UpdatedAt:        w.updatedAt,
	}
	if w.user != nil {
		u := *w.user
		s.User = &u
	}
	if w.current != nil {
		c := *w.current
		s.Current = &c
	}
	if w.weights != nil {
		wt := *w.weights
		s.CustomWeights = &wt
	}
	return s
}

func (w *Workspace) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

// DealID is the deal being analysed, empty for synchronous analyses
func (w *Workspace) DealID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dealID
}

// Current returns a copy of the loaded analysis, nil outside the viewing view
func (w *Workspace) Current() *model.HistoryItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	c := *w.current
	return &c
}

func (w *Workspace) FounderResponses() []model.FounderResponse {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.FounderResponse(nil), w.founderResponses...)
}

// Persona returns the selected persona and, for Custom, its weights
func (w *Workspace) Persona() (model.Persona, *model.ScoreWeightings) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.weights == nil {
		return w.persona, nil
	}
	wt := *w.weights
	return w.persona, &wt
}

func (w *Workspace) Transcript() []model.ChatMessage {
	w.mu.Lock()
	tr := w.transcript
	w.mu.Unlock()
	return tr.Messages()
}

func (w *Workspace) touch() {
	w.updatedAt = time.Now()
}

// Login moves login -> upload
func (w *Workspace) Login(u User) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view != ViewLogin {
		return invalidTransition("log in", w.view)
	}
	if u.ID == "" {
		return apperr.New(apperr.CodeValidation, "user id is required")
	}
	w.user = &u
	w.view = ViewUpload
	w.errMsg = ""
	w.touch()
	return nil
}

// Logout returns to the login view from anywhere. History and persona are kept.
func (w *Workspace) Logout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.user = nil
	w.view = ViewLogin
	w.tab = ""
	w.current = nil
	w.dealID = ""
	w.errMsg = ""
	w.founderResponses = nil
	w.transcript = model.NewTranscript(nil)
	w.touch()
}

// Submit moves upload -> analyzing. dealID is empty for synchronous analyses.
func (w *Workspace) Submit(dealID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view != ViewUpload {
		return invalidTransition("start an analysis", w.view)
	}
	w.view = ViewAnalyzing
	w.dealID = dealID
	w.errMsg = ""
	w.touch()
	return nil
}

// Complete moves analyzing -> viewing with the finished analysis, which is
// also added to the front of the history.
func (w *Workspace) Complete(item *model.HistoryItem) error {
	if !item.HasAnalysis() {
		return apperr.New(apperr.CodeValidation, "analysis is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view != ViewAnalyzing {
		return invalidTransition("show an analysis", w.view)
	}
	c := *item
	if c.Date.IsZero() {
		c.Date = time.Now()
	}
	w.history = append([]model.HistoryItem{c}, w.history...)
	if len(w.history) > MaxHistory {
		w.history = w.history[:MaxHistory]
	}
	w.openLocked(&c)
	return nil
}

func (w *Workspace) openLocked(item *model.HistoryItem) {
	w.current = item
	w.view = ViewViewing
	w.tab = TabExecutiveSummary
	w.dealID = ""
	w.errMsg = ""
	w.founderResponses = nil
	w.transcript = model.NewTranscript(nil)
	w.touch()
}

// Fail moves analyzing -> upload and shows the error
func (w *Workspace) Fail(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view != ViewAnalyzing {
		return invalidTransition("fail an analysis", w.view)
	}
	if message == "" {
		message = "analysis failed"
	}
	w.view = ViewUpload
	w.dealID = ""
	w.errMsg = message
	w.touch()
	return nil
}

// SelectTab switches tabs in the viewing view
func (w *Workspace) SelectTab(tab Tab) error {
	if !tab.Valid() {
		return apperr.Newf(apperr.CodeValidation, "unknown tab %q", tab)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view != ViewViewing {
		return invalidTransition("select a tab", w.view)
	}
	w.tab = tab
	w.touch()
	return nil
}

// NewAnalysis moves viewing -> upload and drops the loaded analysis
func (w *Workspace) NewAnalysis() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view != ViewViewing {
		return invalidTransition("start over", w.view)
	}
	w.view = ViewUpload
	w.tab = ""
	w.current = nil
	w.founderResponses = nil
	w.transcript = model.NewTranscript(nil)
	w.touch()
	return nil
}

// OpenHistory shows a past analysis from the upload or viewing view
func (w *Workspace) OpenHistory(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view != ViewUpload && w.view != ViewViewing {
		return invalidTransition("open a past analysis", w.view)
	}
	for i := range w.history {
		if w.history[i].ID == id {
			c := w.history[i]
			w.openLocked(&c)
			return nil
		}
	}
	return apperr.Newf(apperr.CodeNotFound, "analysis %s not found", id)
}

// SetPersona selects the persona for the next analysis. Custom requires
// weights summing to exactly 100; rejected input changes nothing.
func (w *Workspace) SetPersona(p model.Persona, weights *model.ScoreWeightings) error {
	sel := model.PersonaSelection{Persona: p, Weights: weights}
	if err := sel.Validate(); err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "invalid persona")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view == ViewLogin {
		return invalidTransition("choose a persona", w.view)
	}
	w.persona = p
	if weights != nil {
		wt := *weights
		w.weights = &wt
	} else if p != model.PersonaCustom {
		w.weights = nil
	}
	w.touch()
	return nil
}

// AddFounderResponse records an answer for the loaded analysis
func (w *Workspace) AddFounderResponse(r model.FounderResponse) error {
	r.Question = strings.TrimSpace(r.Question)
	r.Answer = strings.TrimSpace(r.Answer)
	if r.Question == "" || r.Answer == "" {
		return apperr.New(apperr.CodeValidation, "question and answer are required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return apperr.New(apperr.CodeValidation, "no analysis loaded")
	}
	w.founderResponses = append(w.founderResponses, r)
	w.touch()
	return nil
}

// Chat asks the advisor one question about the loaded analysis. On success
// the transcript gains the question and the reply; on failure it is left as
// it was before the call. Turns are serialized per workspace.
func (w *Workspace) Chat(ctx context.Context, advisor Advisor, question string) (*model.ChatMessage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.New(apperr.CodeValidation, "message is empty")
	}

	w.chatMu.Lock()
	defer w.chatMu.Unlock()

	w.mu.Lock()
	if w.current == nil || !w.current.HasAnalysis() {
		w.mu.Unlock()
		return nil, apperr.New(apperr.CodeValidation, "no analysis loaded")
	}
	item := *w.current
	responses := append([]model.FounderResponse(nil), w.founderResponses...)
	tr := w.transcript
	w.mu.Unlock()

	history := tr.Messages()
	before := len(history)
	tr.Append(model.ChatMessage{Role: model.RoleUser, Text: question})

	reply, err := advisor.Advise(ctx, ai.ChatRequest{
		Item:             &item,
		FounderResponses: responses,
		History:          history,
		Question:         question,
	})
	if err != nil {
		tr.Truncate(before)
		return nil, err
	}

	msg := model.ChatMessage{Role: model.RoleModel, Text: reply, At: time.Now()}
	tr.Append(msg)
	w.mu.Lock()
	w.touch()
	w.mu.Unlock()
	return &msg, nil
}
