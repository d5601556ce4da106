package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
	"github.com/Sonket19/AI-Pitch-Lens/service"
)

// CallbackResolver checks and delivers MinerU callbacks
type CallbackResolver interface {
	VerifyCallback(checksum, content string) bool
	Resolve(taskID string, result service.ExtractionResult) bool
}

// PipelineHandler serves the endpoints the processing pipeline is driven by.
// Neither carries a user token.
type PipelineHandler struct {
	queuer       Queuer
	resolver     CallbackResolver
	triggerToken string
	verify       bool
}

// NewPipelineHandler builds the handler. An empty triggerToken leaves
// queueAnalysis open; verifyCallbacks enables checksum checks.
func NewPipelineHandler(queuer Queuer, resolver CallbackResolver, triggerToken string, verifyCallbacks bool) *PipelineHandler {
	return &PipelineHandler{
		queuer:       queuer,
		resolver:     resolver,
		triggerToken: triggerToken,
		verify:       verifyCallbacks,
	}
}

// QueueAnalysis marks a deal queued and starts processing it
func (h *PipelineHandler) QueueAnalysis(c *gin.Context) {
	if h.triggerToken != "" {
		got := c.GetHeader(service.TriggerTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.triggerToken)) != 1 {
			respondError(c, apperr.New(apperr.CodeUnauthorized, "Invalid pipeline token"))
			return
		}
	}

	var req service.QueueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DealID == "" {
		badRequest(c, "dealId is required")
		return
	}

	ctx := logger.WithDeal(c.Request.Context(), req.DealID)
	d, err := h.queuer.Queue(ctx, req.DealID)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Info(ctx, "analysis queued")

	c.JSON(http.StatusOK, service.QueueResponse{DealID: d.ID, Status: string(d.Status)})
}

// MineruCallback receives extraction results from MinerU
func (h *PipelineHandler) MineruCallback(c *gin.Context) {
	var req service.MineruCallbackPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if h.verify && !h.resolver.VerifyCallback(req.Checksum, req.Content) {
		respondError(c, apperr.New(apperr.CodeUnauthorized, "Invalid checksum"))
		return
	}

	var content service.MineruCallbackContent
	if err := json.Unmarshal([]byte(req.Content), &content); err != nil || content.TaskID == "" {
		badRequest(c, "Invalid content format")
		return
	}

	ctx := logger.WithDeal(c.Request.Context(), content.DataID)
	resolved := false
	switch content.State {
	case "done", "failed":
		resolved = h.resolver.Resolve(content.TaskID, service.ExtractionResult{
			State:    content.State,
			ZipURL:   content.FullZipURL,
			ErrorMsg: content.ErrorMsg,
		})
	}
	logger.Info(ctx, "mineru callback received", "task_id", content.TaskID, "state", content.State, "resolved", resolved)

	c.JSON(http.StatusOK, gin.H{"message": "Callback received", "resolved": resolved})
}
