package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

// Task states reported by MinerU
const (
	MineruStatePending    = "pending"
	MineruStateRunning    = "running"
	MineruStateConverting = "converting"
	MineruStateDone       = "done"
	MineruStateFailed     = "failed"
)

// TextExtractor turns a fetchable document URL into plain text
type TextExtractor interface {
	Extract(ctx context.Context, fileURL, dataID string, onTask func(taskID string)) (string, error)
}

type MineruService struct {
	config     *config.MineruConfig
	httpClient *http.Client

	mu      sync.Mutex
	waiters map[string]chan ExtractionResult
}

var _ TextExtractor = (*MineruService)(nil)

// MineruTaskRequest represents the request to create an extraction task
type MineruTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	Callback     string `json:"callback,omitempty"`
	Seed         string `json:"seed,omitempty"`
	DataID       string `json:"data_id,omitempty"`
}

// MineruTaskResponse represents the response from task creation
type MineruTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// MineruTaskStatusResponse represents the task status query response
type MineruTaskStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	TraceID string `json:"trace_id"`
	Data    struct {
		TaskID          string `json:"task_id"`
		DataID          string `json:"data_id"`
		State           string `json:"state"`
		FullZipURL      string `json:"full_zip_url,omitempty"`
		ErrorMsg        string `json:"err_msg,omitempty"`
		ExtractProgress struct {
			ExtractedPages int `json:"extracted_pages"`
			TotalPages     int `json:"total_pages"`
		} `json:"extract_progress,omitempty"`
	} `json:"data"`
}

// MineruCallbackPayload is the body MinerU posts to the callback URL
type MineruCallbackPayload struct {
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

// MineruCallbackContent is the JSON carried in MineruCallbackPayload.Content
type MineruCallbackContent struct {
	TaskID     string `json:"task_id"`
	DataID     string `json:"data_id"`
	State      string `json:"state"`
	FullZipURL string `json:"full_zip_url"`
	ErrorMsg   string `json:"err_msg"`
}

// ExtractionResult resolves a pending extraction, from the poll loop or a callback
type ExtractionResult struct {
	State    string
	ZipURL   string
	ErrorMsg string
}

func NewMineruService(cfg *config.MineruConfig) *MineruService {
	return &MineruService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		waiters: make(map[string]chan ExtractionResult),
	}
}

// CreateTask creates a new extraction task and returns its id
func (s *MineruService) CreateTask(ctx context.Context, fileURL, dataID string) (string, error) {
	reqBody := MineruTaskRequest{
		URL:          fileURL,
		ModelVersion: s.config.ModelVersion,
		DataID:       dataID,
	}

	if s.config.CallbackURL != "" {
		reqBody.Callback = s.config.CallbackURL
		reqBody.Seed = s.config.Seed
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/extract/task", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result MineruTaskResponse
	if err := s.do(req, &result); err != nil {
		return "", err
	}
	if result.Code != 0 {
		return "", fmt.Errorf("MinerU API error: %s", result.Message)
	}
	if result.Data.TaskID == "" {
		return "", fmt.Errorf("MinerU API returned no task id")
	}
	return result.Data.TaskID, nil
}

// GetTaskStatus queries the status of a task
func (s *MineruService) GetTaskStatus(ctx context.Context, taskID string) (*MineruTaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", s.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result MineruTaskStatusResponse
	if err := s.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

func (s *MineruService) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Accept", "*/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	logger.Debug(req.Context(), "mineru response", "path", req.URL.Path, "status", resp.StatusCode, "body", truncate(string(body), 512))

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, truncate(string(body), 256))
	}
	return nil
}

// VerifyCallback checks checksum = SHA256(uid + seed + content)
func (s *MineruService) VerifyCallback(checksum, content string) bool {
	data := s.config.UID + s.config.Seed + content
	hash := sha256.Sum256([]byte(data))
	expected := hex.EncodeToString(hash[:])
	return checksum == expected
}

// Resolve hands a callback result to the extraction waiting on taskID.
// It reports false when nothing is waiting.
func (s *MineruService) Resolve(taskID string, result ExtractionResult) bool {
	s.mu.Lock()
	ch, ok := s.waiters[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- result:
	default:
	}
	return true
}

// Extract runs a full extraction: create the task, wait for the callback or
// poll until done, then read the text out of the result archive.
func (s *MineruService) Extract(ctx context.Context, fileURL, dataID string, onTask func(taskID string)) (string, error) {
	taskID, err := s.CreateTask(ctx, fileURL, dataID)
	if err != nil {
		return "", err
	}
	if onTask != nil {
		onTask(taskID)
	}

	result, err := s.wait(ctx, taskID)
	if err != nil {
		return "", err
	}
	if result.State == MineruStateFailed {
		msg := result.ErrorMsg
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("extraction failed: %s", msg)
	}
	if result.ZipURL == "" {
		return "", fmt.Errorf("extraction finished without a result archive")
	}
	return s.FetchZipText(ctx, result.ZipURL)
}

func (s *MineruService) wait(ctx context.Context, taskID string) (ExtractionResult, error) {
	ch := make(chan ExtractionResult, 1)
	s.mu.Lock()
	s.waiters[taskID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, taskID)
		s.mu.Unlock()
	}()

	interval := s.config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := s.config.PollAttempts
	if attempts <= 0 {
		attempts = 60
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return ExtractionResult{}, ctx.Err()
		case r := <-ch:
			return r, nil
		case <-ticker.C:
		}

		status, err := s.GetTaskStatus(ctx, taskID)
		if err != nil {
			logger.Warn(ctx, "mineru poll failed", "task_id", taskID, "error", err)
			continue
		}
		switch status.Data.State {
		case MineruStateDone, MineruStateFailed:
			return ExtractionResult{
				State:    status.Data.State,
				ZipURL:   status.Data.FullZipURL,
				ErrorMsg: status.Data.ErrorMsg,
			}, nil
		}
	}
	return ExtractionResult{}, fmt.Errorf("extraction task %s timed out", taskID)
}

// FetchZipText downloads the result ZIP and returns the Markdown text,
// falling back to the text entries of the JSON content list.
func (s *MineruService) FetchZipText(ctx context.Context, zipURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download ZIP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download ZIP: status %d", resp.StatusCode)
	}

	zipData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ZIP: %w", err)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return "", fmt.Errorf("failed to open ZIP: %w", err)
	}

	if text, ok := readZipEntry(zipReader, func(name string) bool { return strings.HasSuffix(name, ".md") }); ok && strings.TrimSpace(text) != "" {
		return text, nil
	}

	raw, ok := readZipEntry(zipReader, func(name string) bool { return strings.HasSuffix(name, "content_list.json") })
	if !ok {
		return "", fmt.Errorf("no text content found in ZIP")
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &blocks); err != nil {
		return "", fmt.Errorf("failed to parse content list: %w", err)
	}
	var b strings.Builder
	for _, block := range blocks {
		if block.Text != "" {
			b.WriteString(block.Text)
			b.WriteString("\n\n")
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text content found in ZIP")
	}
	return strings.TrimSpace(b.String()), nil
}

func readZipEntry(r *zip.Reader, match func(name string) bool) (string, bool) {
	for _, file := range r.File {
		if !match(file.Name) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		return string(content), true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
