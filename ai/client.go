// Package ai talks to an OpenAI-compatible chat completions API and turns
// pitch deck content into structured analyses, advice and memos.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

// Completer sends one chat completion request and returns the reply text
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	// Model overrides the client's default model when set
	Model    string
	System   string
	Messages []Message
	// Schema forces a json_schema response format when set
	Schema *JSONSchema
}

// Message is a chat message made of one or more content parts
type Message struct {
	Role  string
	Parts []Part
}

// Part is a single content part: text, an inline file or inline audio
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	File *struct {
		Filename string `json:"filename"`
		FileData string `json:"file_data"`
	} `json:"file,omitempty"`
	InputAudio *struct {
		Data   string `json:"data"`
		Format string `json:"format"`
	} `json:"input_audio,omitempty"`
}

func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart(text)}}
}

func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// FilePart inlines a document as a base64 data URI
func FilePart(filename, mimeType, base64Data string) Part {
	p := Part{Type: "file"}
	p.File = &struct {
		Filename string `json:"filename"`
		FileData string `json:"file_data"`
	}{filename, "data:" + mimeType + ";base64," + base64Data}
	return p
}

// AudioPart inlines base64 audio; format is wav or mp3
func AudioPart(format, base64Data string) Part {
	p := Part{Type: "input_audio"}
	p.InputAudio = &struct {
		Data   string `json:"data"`
		Format string `json:"format"`
	}{base64Data, format}
	return p
}

// MarshalJSON sends a single text part as a plain string.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}
	if len(m.Parts) == 1 && m.Parts[0].Type == "text" {
		return json.Marshal(wire{m.Role, m.Parts[0].Text})
	}
	return json.Marshal(wire{m.Role, m.Parts})
}

// JSONSchema is the json_schema response format payload
type JSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type requestBody struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Temperature         float64         `json:"temperature,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

// Client is an OpenAI-compatible chat completions client
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

var _ Completer = (*Client)(nil)

func NewClient(cfg *config.AIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, TextMessage("system", req.System))
	}
	messages = append(messages, req.Messages...)

	body := requestBody{
		Model:               model,
		Messages:            messages,
		Temperature:         c.temperature,
		MaxCompletionTokens: c.maxTokens,
	}
	if req.Schema != nil {
		body.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: req.Schema}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	logger.Debug(ctx, "ai completion", "model", model, "status", resp.StatusCode,
		"bytes", len(respBody), "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		if msg := gjson.GetBytes(respBody, "error.message"); msg.Exists() {
			return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg.String())
		}
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	choice := gjson.GetBytes(respBody, "choices.0.message")
	if !choice.Exists() {
		return "", fmt.Errorf("no choices in response")
	}
	if refusal := choice.Get("refusal"); refusal.Exists() && refusal.String() != "" {
		return "", fmt.Errorf("model refused: %s", refusal.String())
	}
	content := choice.Get("content").String()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("empty response content")
	}
	return content, nil
}

// cleanJSONContent strips a surrounding markdown code fence
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") && strings.HasSuffix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}

// MockCompleter is a Completer for tests
type MockCompleter struct {
	Response string
	Error    error
	// Func, when set, answers instead of Response and Error
	Func func(req CompletionRequest) (string, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.Func != nil {
		return m.Func(req)
	}
	if m.Error != nil {
		return "", m.Error
	}
	return m.Response, nil
}

// Requests returns every request received so far
func (m *MockCompleter) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}
