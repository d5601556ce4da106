package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sonket19/AI-Pitch-Lens/middleware"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
	"github.com/Sonket19/AI-Pitch-Lens/service"
	"github.com/Sonket19/AI-Pitch-Lens/session"
)

// Queuer marks a deal queued and hands it to the in-process pipeline
type Queuer interface {
	Queue(ctx context.Context, dealID string) (*model.Deal, error)
}

// DealWatcher is the hub as seen by deal handlers
type DealWatcher interface {
	session.Watcher
	Subscribe(ctx context.Context, dealID string) (<-chan *model.Deal, <-chan error)
}

type DealHandler struct {
	storage  service.ObjectStorage
	store    service.DealStore
	watcher  DealWatcher
	trigger  service.AnalysisTrigger
	queuer   Queuer
	sessions *session.Manager
	maxSize  int64
	ping     time.Duration
}

// DealOptions carries the optional collaborators of DealHandler. With no
// Trigger configured, ?analyze=true queues the deal on Queuer directly.
type DealOptions struct {
	Trigger   service.AnalysisTrigger
	Queuer    Queuer
	MaxSizeMB int64
	// PingInterval spaces keep-alive events on watch streams
	PingInterval time.Duration
}

func NewDealHandler(storage service.ObjectStorage, store service.DealStore, watcher DealWatcher, sessions *session.Manager, opts DealOptions) *DealHandler {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 50
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &DealHandler{
		storage:  storage,
		store:    store,
		watcher:  watcher,
		trigger:  opts.Trigger,
		queuer:   opts.Queuer,
		sessions: sessions,
		maxSize:  opts.MaxSizeMB << 20,
		ping:     opts.PingInterval,
	}
}

// Upload stores a pitch deck PDF and creates its deal record. With
// ?analyze=true the analysis is queued and the workspace follows the deal.
func (h *DealHandler) Upload(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ctx := c.Request.Context()

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "No file provided")
		return
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(header.Filename)) != ".pdf" {
		badRequest(c, "Only PDF files are allowed")
		return
	}
	if header.Size > h.maxSize {
		badRequest(c, "File exceeds the upload size limit")
		return
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		badRequest(c, "Failed to read file")
		return
	}
	head = head[:n]
	if detected := http.DetectContentType(head); !strings.Contains(detected, "pdf") && detected != "application/octet-stream" {
		badRequest(c, "Invalid file type")
		return
	}
	body := io.MultiReader(bytes.NewReader(head), file)

	analyze := c.Query("analyze") == "true"
	if analyze {
		// refuse before anything is stored so a conflict leaves no deal behind
		ws, err := h.sessions.Get(ctx, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		if v := ws.View(); v != session.ViewUpload {
			respondError(c, apperr.Newf(apperr.CodeInvalidTransition, "cannot start an analysis from the %s view", v))
			return
		}
	}

	objectName := service.ObjectPath(userID, header.Filename, time.Now())
	ctx = logger.WithUser(ctx, userID)
	lastLogged := -1
	err = h.storage.UploadFile(ctx, objectName, body, header.Size, "application/pdf", func(fraction float64) {
		if pct := int(fraction*100) / 25 * 25; pct > lastLogged {
			lastLogged = pct
			logger.Debug(ctx, "upload progress", "object", objectName, "percent", pct)
		}
	})
	if err != nil {
		respondError(c, apperr.Wrap(err, apperr.CodeStorage, "Failed to upload file"))
		return
	}

	fileURL, err := h.storage.GetPresignedURL(ctx, objectName)
	if err != nil {
		h.removeObject(ctx, objectName)
		respondError(c, apperr.Wrap(err, apperr.CodeStorage, "Failed to create download URL"))
		return
	}

	dealID, err := h.store.Create(ctx, &model.Deal{
		UserID:      userID,
		Filename:    header.Filename,
		StoragePath: objectName,
		FileURL:     fileURL,
	})
	if err != nil {
		h.removeObject(ctx, objectName)
		respondError(c, err)
		return
	}
	ctx = logger.WithDeal(ctx, dealID)
	logger.Info(ctx, "deal uploaded", "filename", header.Filename, "size", header.Size)

	status := model.StatusUploaded
	if analyze {
		// the view may have moved since the check above
		if _, err := h.sessions.Update(ctx, userID, func(w *session.Workspace) error { return w.Submit(dealID) }); err != nil {
			h.discard(ctx, dealID, objectName)
			respondError(c, err)
			return
		}
		status, err = h.startAnalysis(ctx, userID, dealID)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":          dealID,
		"filename":    header.Filename,
		"storagePath": objectName,
		"fileUrl":     fileURL,
		"status":      status,
	})
}

// startAnalysis follows the deal from the analyzing workspace and then
// notifies the pipeline. A failure sends the workspace back to upload.
func (h *DealHandler) startAnalysis(ctx context.Context, userID, dealID string) (model.Status, error) {
	fail := func(err error) (model.Status, error) {
		h.sessions.Unfollow(userID)
		msg := "failed to queue analysis: " + apperr.Message(err)
		if _, ferr := h.sessions.Update(ctx, userID, func(w *session.Workspace) error { return w.Fail(msg) }); ferr != nil {
			logger.Warn(ctx, "failed to reset workspace", "error", ferr)
		}
		return "", err
	}

	if err := h.sessions.Follow(ctx, userID, dealID, h.watcher); err != nil {
		return fail(err)
	}
	status, err := h.queue(ctx, dealID)
	if err != nil {
		return fail(err)
	}
	return status, nil
}

// discard removes a deal that must not outlive the failed request
func (h *DealHandler) discard(ctx context.Context, dealID, objectName string) {
	if err := h.store.Delete(ctx, dealID); err != nil {
		logger.Warn(ctx, "failed to remove deal record", "error", err)
	}
	h.removeObject(ctx, objectName)
}

func (h *DealHandler) removeObject(ctx context.Context, objectName string) {
	if err := h.storage.DeleteFile(ctx, objectName); err != nil {
		logger.Warn(ctx, "failed to remove orphaned upload", "object", objectName, "error", err)
	}
}

func (h *DealHandler) queue(ctx context.Context, dealID string) (model.Status, error) {
	if h.trigger != nil {
		resp, err := h.trigger.QueueAnalysis(ctx, dealID)
		if err != nil {
			return "", apperr.Wrap(err, apperr.CodePipeline, "failed to trigger analysis")
		}
		if resp.Status != "" {
			return model.Status(resp.Status), nil
		}
		return model.StatusQueued, nil
	}
	if h.queuer == nil {
		return "", apperr.New(apperr.CodePipeline, "analysis pipeline is not configured")
	}
	d, err := h.queuer.Queue(ctx, dealID)
	if err != nil {
		return "", err
	}
	return d.Status, nil
}

// owned loads a deal and hides other users' deals behind NOT_FOUND
func (h *DealHandler) owned(c *gin.Context) (*model.Deal, bool) {
	id := c.Param("id")
	d, err := h.store.Get(c.Request.Context(), id)
	if err == nil && d.UserID != middleware.GetUserID(c) {
		err = apperr.Newf(apperr.CodeNotFound, "deal %s not found", id)
	}
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return d, true
}

func dealSummary(d *model.Deal) gin.H {
	return gin.H{
		"id":           d.ID,
		"filename":     d.Filename,
		"status":       d.Status,
		"errorMessage": d.ErrorMessage,
		"createdAt":    d.CreatedAt.Format(time.RFC3339),
		"updatedAt":    d.UpdatedAt.Format(time.RFC3339),
	}
}

// List returns the caller's most recent deals without text or analysis
func (h *DealHandler) List(c *gin.Context) {
	limit := service.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	deals, err := h.store.ListRecentByOwner(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	result := make([]gin.H, len(deals))
	for i, d := range deals {
		result[i] = dealSummary(d)
	}
	c.JSON(http.StatusOK, gin.H{"deals": result})
}

// Get returns a single deal with its text and analysis
func (h *DealHandler) Get(c *gin.Context) {
	d, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetStatus returns the processing status of a deal
func (h *DealHandler) GetStatus(c *gin.Context) {
	d, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           d.ID,
		"status":       d.Status,
		"errorMessage": d.ErrorMessage,
	})
}

// Watch streams deal snapshots as server-sent events until the client goes
// away, the deal is deleted or it reaches a terminal status.
func (h *DealHandler) Watch(c *gin.Context) {
	d, ok := h.owned(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	updates, errs := h.watcher.Subscribe(ctx, d.ID)
	logger.Debug(ctx, "deal watch opened", "deal_id", d.ID)

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			if snap == nil {
				c.SSEvent("deleted", gin.H{"id": d.ID})
				return false
			}
			c.SSEvent("deal", snap)
			return !snap.Status.Terminal()
		case err, ok := <-errs:
			if !ok {
				return false
			}
			c.SSEvent("error", gin.H{"error": apperr.Message(err), "code": apperr.Code(err)})
			return false
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().Format(time.RFC3339)})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// Delete removes the stored deck and the deal record
func (h *DealHandler) Delete(c *gin.Context) {
	d, ok := h.owned(c)
	if !ok {
		return
	}
	ctx := logger.WithDeal(c.Request.Context(), d.ID)

	if err := h.storage.DeleteFile(ctx, d.StoragePath); err != nil {
		respondError(c, apperr.Wrap(err, apperr.CodeStorage, "Failed to delete file"))
		return
	}
	if err := h.store.Delete(ctx, d.ID); err != nil {
		respondError(c, err)
		return
	}
	logger.Info(ctx, "deal deleted")

	c.JSON(http.StatusOK, gin.H{"message": "Deal deleted"})
}
