package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/service"
)

func postJSON(t *testing.T, h gin.HandlerFunc, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	router := gin.New()
	router.POST("/hook", h)
	req := httptest.NewRequest("POST", "/hook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPipelineQueueAnalysis(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.deals.Create(context.Background(), &model.Deal{UserID: "u1", Filename: "demo.pdf", StoragePath: "decks/u1/1_demo.pdf"})
	require.NoError(t, err)
	processing, err := env.deals.Create(context.Background(), &model.Deal{UserID: "u1", Filename: "late.pdf", StoragePath: "decks/u1/2_late.pdf"})
	require.NoError(t, err)
	_, err = env.deals.Update(context.Background(), processing, func(d *model.Deal) error { return d.Advance(model.StatusProcessing) })
	require.NoError(t, err)

	h := NewPipelineHandler(env.processor, nil, "tok", false)

	tests := []struct {
		name           string
		token          string
		body           any
		expectedStatus int
		expectedCode   string
	}{
		{"missing token", "", service.QueueRequest{DealID: id}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong token", "nope", service.QueueRequest{DealID: id}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"missing deal id", "tok", map[string]string{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown deal", "tok", service.QueueRequest{DealID: "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"already processing", "tok", service.QueueRequest{DealID: processing}, http.StatusConflict, "INVALID_TRANSITION"},
		{"queued", "tok", service.QueueRequest{DealID: id}, http.StatusOK, ""},
		{"queued twice", "tok", service.QueueRequest{DealID: id}, http.StatusConflict, "INVALID_TRANSITION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.token != "" {
				headers[service.TriggerTokenHeader] = tt.token
			}
			w := postJSON(t, h.QueueAnalysis, headers, tt.body)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, decode(t, w)["code"])
				return
			}
			var resp service.QueueResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, service.QueueResponse{DealID: id, Status: "queued"}, resp)
		})
	}

	d, err := env.deals.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, d.Status)
}

type recordingResolver struct {
	valid   bool
	taskID  string
	result  service.ExtractionResult
	waiting bool
}

func (r *recordingResolver) VerifyCallback(checksum, content string) bool { return r.valid }

func (r *recordingResolver) Resolve(taskID string, result service.ExtractionResult) bool {
	r.taskID = taskID
	r.result = result
	return r.waiting
}

func callbackContent(t *testing.T, c service.MineruCallbackContent) string {
	t.Helper()
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	return string(raw)
}

func TestPipelineMineruCallbackResolves(t *testing.T) {
	resolver := &recordingResolver{valid: true, waiting: true}
	h := NewPipelineHandler(nil, resolver, "", true)

	content := callbackContent(t, service.MineruCallbackContent{
		TaskID: "task-1", DataID: "deal-1", State: "done", FullZipURL: "https://cdn.test/full.zip",
	})
	w := postJSON(t, h.MineruCallback, nil, service.MineruCallbackPayload{Checksum: "x", Content: content})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["resolved"])
	assert.Equal(t, "task-1", resolver.taskID)
	assert.Equal(t, service.ExtractionResult{State: "done", ZipURL: "https://cdn.test/full.zip"}, resolver.result)
}

func TestPipelineMineruCallbackIgnoresRunning(t *testing.T) {
	resolver := &recordingResolver{valid: true, waiting: true}
	h := NewPipelineHandler(nil, resolver, "", false)

	content := callbackContent(t, service.MineruCallbackContent{TaskID: "task-1", State: "running"})
	w := postJSON(t, h.MineruCallback, nil, service.MineruCallbackPayload{Content: content})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["resolved"])
	assert.Empty(t, resolver.taskID)
}

func TestPipelineMineruCallbackChecksum(t *testing.T) {
	mineru := service.NewMineruService(&config.MineruConfig{UID: "uid-1", Seed: "seed-1"})
	h := NewPipelineHandler(nil, mineru, "", true)

	content := callbackContent(t, service.MineruCallbackContent{TaskID: "task-9", DataID: "deal-9", State: "failed", ErrorMsg: "bad pdf"})
	sum := sha256.Sum256([]byte("uid-1" + "seed-1" + content))

	tests := []struct {
		name           string
		payload        any
		expectedStatus int
	}{
		{"bad checksum", service.MineruCallbackPayload{Checksum: "deadbeef", Content: content}, http.StatusUnauthorized},
		{"valid checksum, nothing waiting", service.MineruCallbackPayload{Checksum: hex.EncodeToString(sum[:]), Content: content}, http.StatusOK},
		{"content is not json", service.MineruCallbackPayload{Checksum: "x", Content: "{"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.MineruCallback, nil, tt.payload)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}

func TestPipelineMineruCallbackInvalidContent(t *testing.T) {
	h := NewPipelineHandler(nil, &recordingResolver{}, "", false)

	w := postJSON(t, h.MineruCallback, nil, service.MineruCallbackPayload{Content: "not json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, h.MineruCallback, nil, service.MineruCallbackPayload{Content: `{"state":"done"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code, "task id is required")
}
