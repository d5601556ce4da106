package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sonket19/AI-Pitch-Lens/middleware"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/session"
)

// WorkspaceHandler exposes the investor's view state
type WorkspaceHandler struct {
	sessions *session.Manager
}

func NewWorkspaceHandler(sessions *session.Manager) *WorkspaceHandler {
	return &WorkspaceHandler{sessions: sessions}
}

type PersonaRequest struct {
	Persona string                 `json:"persona" binding:"required"`
	Weights *model.ScoreWeightings `json:"weights"`
}

type TabRequest struct {
	Tab session.Tab `json:"tab" binding:"required"`
}

// update applies fn to the caller's workspace and answers with its snapshot
func (h *WorkspaceHandler) update(c *gin.Context, fn func(w *session.Workspace) error) {
	w, err := h.sessions.Update(c.Request.Context(), middleware.GetUserID(c), fn)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w.Snapshot())
}

func (h *WorkspaceHandler) Get(c *gin.Context) {
	w, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w.Snapshot())
}

// SetPersona selects the investor persona; Custom requires weights totalling 100
func (h *WorkspaceHandler) SetPersona(c *gin.Context) {
	var req PersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "persona is required")
		return
	}
	p, err := model.ParsePersona(req.Persona)
	if err != nil {
		respondError(c, apperr.Wrap(err, apperr.CodeValidation, "invalid persona"))
		return
	}
	h.update(c, func(w *session.Workspace) error { return w.SetPersona(p, req.Weights) })
}

func (h *WorkspaceHandler) SelectTab(c *gin.Context) {
	var req TabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "tab is required")
		return
	}
	h.update(c, func(w *session.Workspace) error { return w.SelectTab(req.Tab) })
}

// AddFounderResponse records an answer gathered in Founder Connect
func (h *WorkspaceHandler) AddFounderResponse(c *gin.Context) {
	var req model.FounderResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	h.update(c, func(w *session.Workspace) error { return w.AddFounderResponse(req) })
}

// NewAnalysis leaves the current analysis for the upload view
func (h *WorkspaceHandler) NewAnalysis(c *gin.Context) {
	h.update(c, func(w *session.Workspace) error { return w.NewAnalysis() })
}

func (h *WorkspaceHandler) History(c *gin.Context) {
	w, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	history := w.Snapshot().History
	if history == nil {
		history = []model.HistoryItem{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// OpenHistory reopens a past analysis
func (h *WorkspaceHandler) OpenHistory(c *gin.Context) {
	id := c.Param("id")
	h.update(c, func(w *session.Workspace) error { return w.OpenHistory(id) })
}
