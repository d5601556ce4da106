package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sonket19/AI-Pitch-Lens/ai"
	"github.com/Sonket19/AI-Pitch-Lens/middleware"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/session"
)

// MemoWriter drafts documents from the loaded analysis
type MemoWriter interface {
	GenerateMemo(ctx context.Context, item *model.HistoryItem, founderResponses []model.FounderResponse) (string, error)
	SuggestQuestions(ctx context.Context, item *model.HistoryItem) ([]string, error)
}

// ChatHandler serves the analyst chat, the investment memo and founder questions
type ChatHandler struct {
	sessions *session.Manager
	writer   MemoWriter
}

func NewChatHandler(sessions *session.Manager, writer MemoWriter) *ChatHandler {
	return &ChatHandler{sessions: sessions, writer: writer}
}

type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// Chat asks one question about the loaded analysis
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "message is required")
		return
	}

	userID := middleware.GetUserID(c)
	reply, err := h.sessions.Chat(c.Request.Context(), userID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": reply})
}

// Transcript returns the chat log of the loaded analysis
func (h *ChatHandler) Transcript(c *gin.Context) {
	w, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": w.Transcript()})
}

// Memo drafts the investment memo as Markdown, or as HTML with ?format=html
func (h *ChatHandler) Memo(c *gin.Context) {
	w, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	memo, err := h.writer.GenerateMemo(c.Request.Context(), w.Current(), w.FounderResponses())
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "html" {
		c.Header("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(ai.RenderMemoHTML(memo)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"memo": memo})
}

// Questions suggests questions to put to the founder
func (h *ChatHandler) Questions(c *gin.Context) {
	w, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	questions, err := h.writer.SuggestQuestions(c.Request.Context(), w.Current())
	if err != nil {
		respondError(c, err)
		return
	}
	if questions == nil {
		questions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}
