package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Sonket19/AI-Pitch-Lens/ai"
	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/service"
	"github.com/Sonket19/AI-Pitch-Lens/session"
)

const testAnalysisJSON = `{
  "executiveSummary": {"summary": "Clinic payments platform", "strengths": ["Team"], "weaknesses": ["Early"]},
  "riskAssessment": {"risks": [{"title": "Churn", "description": "SMB churn", "severity": "High", "mitigation": "Annual plans"}]},
  "industryAnalysis": {"benchmarking": "Above median", "competitors": ["Stripe"]},
  "financialAnalysis": {"keyMetrics": [{"name": "ARR", "value": "$1.2M"}], "fundingRequest": "$3M", "projections": "3x"},
  "followUpQuestions": {"questions": ["What is CAC?"], "founderEmail": "ceo@acme.test"}
}`

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:        "test-secret",
			TokenExpireHours: 24,
		},
		Users: []config.User{
			{ID: "u1", Email: "test@user.com", Name: "Test", Password: "testpass"},
			{ID: "u2", Email: "other@user.com", Password: "otherpass"},
		},
	}
}

// fakeStorage keeps uploaded objects in memory
type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr  error
	presignErr error
	deleteErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string, onProgress service.ProgressFunc) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(1)
	}
	s.mu.Lock()
	s.objects[objectName] = data
	s.mu.Unlock()
	return nil
}

func (s *fakeStorage) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://storage.test/" + objectName, nil
}

func (s *fakeStorage) Download(ctx context.Context, objectName string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectName]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (s *fakeStorage) DeleteFile(ctx context.Context, objectName string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	delete(s.objects, objectName)
	s.mu.Unlock()
	return nil
}

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, fileURL, dataID string, onTask func(string)) (string, error) {
	onTask("task-" + dataID)
	return f.text, f.err
}

// answerAll responds to every prompt the analyzer sends
func answerAll(req ai.CompletionRequest) (string, error) {
	if req.Schema != nil {
		switch req.Schema.Name {
		case "pitch_deck_analysis":
			return testAnalysisJSON, nil
		case "conversation_starting_points":
			return `{"questions": ["What is your CAC?", "How long is your runway?"]}`, nil
		}
	}
	return "Medium risk: early revenue.", nil
}

type testEnv struct {
	cfg       *config.Config
	router    *gin.Engine
	storage   *fakeStorage
	deals     *service.MemoryStore
	hub       *service.Hub
	processor *service.Processor
	completer *ai.MockCompleter
	sessions  *session.Manager
	limit     gin.HandlerFunc
}

type envOption func(*testEnv, *DealOptions)

func withTrigger(t service.AnalysisTrigger) envOption {
	return func(_ *testEnv, o *DealOptions) { o.Trigger = t }
}

func withRateLimit(limit gin.HandlerFunc) envOption {
	return func(e *testEnv, _ *DealOptions) { e.limit = limit }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		cfg:       testConfig(),
		storage:   newFakeStorage(),
		hub:       service.NewHub(),
		completer: &ai.MockCompleter{Func: answerAll},
	}
	env.deals = service.NewMemoryStore(0, env.hub)
	env.hub.SetSource(env.deals)

	analyzer := ai.NewAnalyzer(env.completer, "")
	env.processor = service.NewProcessor(env.deals, env.storage, &fakeExtractor{text: "Acme deck text"}, analyzer, service.ProcessorOptions{})
	env.sessions = session.NewManager(session.NewMemoryStore(), analyzer)

	dealOpts := DealOptions{Queuer: env.processor}
	for _, o := range opts {
		o(env, &dealOpts)
	}

	env.router = gin.New()
	RegisterRoutes(env.router, Handlers{
		Auth:      NewAuthHandler(env.cfg, env.sessions),
		Deals:     NewDealHandler(env.storage, env.deals, env.hub, env.sessions, dealOpts),
		Pipeline:  NewPipelineHandler(env.processor, service.NewMineruService(&config.MineruConfig{}), "", false),
		Analyze:   NewAnalyzeHandler(analyzer, env.sessions, 0),
		Workspace: NewWorkspaceHandler(env.sessions),
		Chat:      NewChatHandler(env.sessions, analyzer),
	}, &env.cfg.Auth, env.limit)
	t.Cleanup(func() { env.sessions.Close() })
	return env
}

// runProcessor processes queued deals until the test ends
func (e *testEnv) runProcessor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.processor.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (e *testEnv) loginAs(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(t, "POST", "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func (e *testEnv) login(t *testing.T) string {
	return e.loginAs(t, "test@user.com", "testpass")
}

// do sends a JSON request; body may be nil
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// upload posts a multipart form with an optional file part
func (e *testEnv) upload(t *testing.T, path, token, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
