package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Sonket19/AI-Pitch-Lens/ai"
	"github.com/Sonket19/AI-Pitch-Lens/middleware"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
	"github.com/Sonket19/AI-Pitch-Lens/session"
)

// DeckAnalyzer produces a structured analysis of one pitch
type DeckAnalyzer interface {
	AnalyzeDeck(ctx context.Context, in ai.DeckInput) (*model.PitchDeckAnalysis, error)
}

// AnalyzeHandler runs a synchronous analysis of a deck, email or recording
// and shows the result in the caller's workspace.
type AnalyzeHandler struct {
	analyzer DeckAnalyzer
	sessions *session.Manager
	maxSize  int64
}

func NewAnalyzeHandler(analyzer DeckAnalyzer, sessions *session.Manager, maxSizeMB int64) *AnalyzeHandler {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	return &AnalyzeHandler{analyzer: analyzer, sessions: sessions, maxSize: maxSizeMB << 20}
}

// Analyze accepts multipart `file` or form `text`, plus optional
// `input_type`, `persona` and `weights` (JSON). Without a persona the
// workspace selection is used.
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ctx := logger.WithUser(c.Request.Context(), userID)

	in, err := h.readInput(c)
	if err != nil {
		respondError(c, err)
		return
	}

	w, err := h.sessions.Get(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.PostForm("persona") == "" {
		in.Persona, in.Weights = w.Persona()
	} else if in.Persona, in.Weights, err = parsePersonaForm(c); err != nil {
		respondError(c, err)
		return
	}
	if err := in.Validate(); err != nil {
		respondError(c, err)
		return
	}

	if _, err := h.sessions.Update(ctx, userID, func(w *session.Workspace) error { return w.Submit("") }); err != nil {
		respondError(c, err)
		return
	}

	analysis, err := h.analyzer.AnalyzeDeck(ctx, in)
	if err != nil {
		if _, ferr := h.sessions.Update(ctx, userID, func(w *session.Workspace) error { return w.Fail(apperr.Message(err)) }); ferr != nil {
			logger.Warn(ctx, "failed to reset workspace", "error", ferr)
		}
		respondError(c, err)
		return
	}

	item := &model.HistoryItem{
		ID:            uuid.NewString(),
		FileName:      in.Filename,
		Persona:       in.Persona,
		CustomWeights: in.Weights,
		Date:          time.Now(),
		Analysis:      analysis,
	}
	w, err = h.sessions.Update(ctx, userID, func(w *session.Workspace) error { return w.Complete(item) })
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Info(ctx, "analysis completed", "input_type", in.InputType, "persona", in.Persona)

	c.JSON(http.StatusOK, gin.H{"item": item, "workspace": w.Snapshot()})
}

func (h *AnalyzeHandler) readInput(c *gin.Context) (ai.DeckInput, error) {
	var in ai.DeckInput
	explicit := c.PostForm("input_type")

	file, header, err := c.Request.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		if header.Size > h.maxSize {
			return in, apperr.New(apperr.CodeValidation, "File exceeds the upload size limit")
		}
		content, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
		if err != nil {
			return in, apperr.Wrap(err, apperr.CodeValidation, "Failed to read file")
		}
		in.Content = content
		in.Filename = header.Filename
		in.MimeType = header.Header.Get("Content-Type")
		in.InputType = ai.DetectInputType(header.Filename, content)
	case strings.TrimSpace(c.PostForm("text")) != "":
		in.Content = []byte(c.PostForm("text"))
		in.Filename = "email.txt"
		in.InputType = ai.InputEmail
	default:
		return in, apperr.New(apperr.CodeValidation, "file or text is required")
	}

	if explicit != "" {
		t, err := ai.ParseInputType(explicit)
		if err != nil {
			return in, err
		}
		in.InputType = t
	}
	return in, nil
}

func parsePersonaForm(c *gin.Context) (model.Persona, *model.ScoreWeightings, error) {
	p, err := model.ParsePersona(c.PostForm("persona"))
	if err != nil {
		return "", nil, apperr.Wrap(err, apperr.CodeValidation, "invalid persona")
	}
	if p != model.PersonaCustom {
		return p, nil, nil
	}
	raw := c.PostForm("weights")
	if raw == "" {
		return "", nil, apperr.New(apperr.CodeValidation, "custom persona requires weights")
	}
	var weights model.ScoreWeightings
	if err := json.Unmarshal([]byte(raw), &weights); err != nil {
		return "", nil, apperr.Wrap(err, apperr.CodeValidation, "invalid weights")
	}
	return p, &weights, nil
}
