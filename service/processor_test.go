package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonket19/AI-Pitch-Lens/ai"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
)

type fakeSigner struct{ err error }

func (f fakeSigner) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "http://minio.test/pitch-decks/" + objectName + "?X-Amz-Signature=x", nil
}

type fakeExtractor struct {
	text string
	err  error

	mu   sync.Mutex
	urls []string
}

func (f *fakeExtractor) Extract(ctx context.Context, fileURL, dataID string, onTask func(string)) (string, error) {
	f.mu.Lock()
	f.urls = append(f.urls, fileURL)
	f.mu.Unlock()
	onTask("task-" + dataID)
	return f.text, f.err
}

type fakeAnalyzer struct {
	riskErr error
	persona model.Persona
	mu      sync.Mutex
}

func (f *fakeAnalyzer) AnalyzeDeck(ctx context.Context, in ai.DeckInput) (*model.PitchDeckAnalysis, error) {
	f.mu.Lock()
	f.persona = in.Persona
	f.mu.Unlock()
	return &model.PitchDeckAnalysis{
		ExecutiveSummary: model.ExecutiveSummary{Summary: "Payments for clinics"},
		IndustryAnalysis: model.IndustryAnalysis{Benchmarking: "Top quartile"},
	}, nil
}

func (f *fakeAnalyzer) AssessRisk(ctx context.Context, text string, persona model.Persona) (string, error) {
	if f.riskErr != nil {
		return "", f.riskErr
	}
	return "Medium risk: " + text, nil
}

func (f *fakeAnalyzer) ExtractFinancials(ctx context.Context, text string) (string, error) {
	return "ARR $1.2M", nil
}

func newTestProcessor(t *testing.T, extractor TextExtractor, analyzer DeckAnalyzer) (*Processor, DealStore, *recordingNotifier, string) {
	t.Helper()
	n := &recordingNotifier{}
	store := NewMemoryStore(0, n)
	id, err := store.Create(context.Background(), newUploadedDeal("u1", "demo.pdf"))
	require.NoError(t, err)
	return NewProcessor(store, fakeSigner{}, extractor, analyzer, ProcessorOptions{Workers: 2, QueueSize: 4}), store, n, id
}

func statuses(calls []notifyCall) []model.Status {
	var out []model.Status
	for _, c := range calls {
		if c.deal != nil && (len(out) == 0 || out[len(out)-1] != c.deal.Status) {
			out = append(out, c.deal.Status)
		}
	}
	return out
}

func TestProcessorProcessCompletes(t *testing.T) {
	extractor := &fakeExtractor{text: "Acme deck text"}
	analyzer := &fakeAnalyzer{}
	p, store, n, id := newTestProcessor(t, extractor, analyzer)
	ctx := context.Background()

	queued, err := p.Queue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, queued.Status)

	require.NoError(t, p.Process(ctx, id))

	d, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, d.Status)
	assert.Equal(t, "Acme deck text", d.FullText)
	assert.Equal(t, "task-"+id, d.ExtractionTaskID)
	assert.Equal(t, "Medium risk: Acme deck text", d.Analysis[model.SectionRisk])
	assert.Equal(t, "ARR $1.2M", d.Analysis[model.SectionFinancials])
	assert.Equal(t, "Payments for clinics", d.Analysis[model.SectionExecutiveSummary])
	assert.Contains(t, d.Analysis[model.SectionStructured], "Top quartile")
	assert.Empty(t, d.ErrorMessage)
	assert.Equal(t, model.PersonaSaaS, analyzer.persona)

	require.Len(t, extractor.urls, 1)
	assert.Contains(t, extractor.urls[0], d.StoragePath)

	assert.Equal(t, []model.Status{
		model.StatusUploaded, model.StatusQueued, model.StatusProcessing,
		model.StatusTextExtracted, model.StatusCompleted,
	}, statuses(n.snapshot()))
}

func TestProcessorProcessFailures(t *testing.T) {
	tests := []struct {
		name       string
		signerErr  error
		extractor  *fakeExtractor
		analyzer   DeckAnalyzer
		wantPrefix string
		wantText   string
	}{
		{
			name:       "presign fails",
			signerErr:  errors.New("minio down"),
			extractor:  &fakeExtractor{text: "x"},
			analyzer:   &fakeAnalyzer{},
			wantPrefix: "failed to access deck: minio down",
		},
		{
			name:       "extraction fails",
			extractor:  &fakeExtractor{err: errors.New("extraction failed: bad pdf")},
			analyzer:   &fakeAnalyzer{},
			wantPrefix: "text extraction failed: extraction failed: bad pdf",
		},
		{
			name:       "no text",
			extractor:  &fakeExtractor{},
			analyzer:   &fakeAnalyzer{},
			wantPrefix: "text extraction returned no text",
		},
		{
			name:       "ai fails",
			extractor:  &fakeExtractor{text: "deck"},
			analyzer:   ai.NewAnalyzer(&ai.MockCompleter{Error: errors.New("quota exceeded")}, ""),
			wantPrefix: "AI analysis failed: quota exceeded",
			wantText:   "deck",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			store := NewMemoryStore(0, n)
			ctx := context.Background()
			id, err := store.Create(ctx, newUploadedDeal("u1", "demo.pdf"))
			require.NoError(t, err)
			p := NewProcessor(store, fakeSigner{err: tt.signerErr}, tt.extractor, tt.analyzer, ProcessorOptions{})

			require.NoError(t, p.Process(ctx, id))

			d, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model.StatusError, d.Status)
			assert.True(t, strings.HasPrefix(d.ErrorMessage, tt.wantPrefix), "got %q", d.ErrorMessage)
			assert.Nil(t, d.Analysis)
			assert.Equal(t, tt.wantText, d.FullText)
		})
	}
}

func TestProcessorQueueErrors(t *testing.T) {
	p, store, _, id := newTestProcessor(t, &fakeExtractor{text: "x"}, &fakeAnalyzer{})
	ctx := context.Background()

	_, err := p.Queue(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))

	_, err = p.Queue(ctx, id)
	require.NoError(t, err)
	_, err = p.Queue(ctx, id)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition), "queued twice: got %v", err)
	assert.Len(t, p.queue, 1)

	_, err = store.Update(ctx, id, func(d *model.Deal) error { return d.Advance(model.StatusProcessing) })
	require.NoError(t, err)
	_, err = p.Queue(ctx, id)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition), "got %v", err)
}

func TestProcessorQueueFullFailsDeal(t *testing.T) {
	store := NewMemoryStore(0, nil)
	p := NewProcessor(store, fakeSigner{}, &fakeExtractor{text: "x"}, &fakeAnalyzer{}, ProcessorOptions{QueueSize: 1})
	ctx := context.Background()

	first, err := store.Create(ctx, newUploadedDeal("u1", "a.pdf"))
	require.NoError(t, err)
	second, err := store.Create(ctx, newUploadedDeal("u1", "b.pdf"))
	require.NoError(t, err)

	_, err = p.Queue(ctx, first)
	require.NoError(t, err)
	_, err = p.Queue(ctx, second)
	assert.True(t, apperr.Is(err, apperr.CodePipeline), "got %v", err)

	d, err := store.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, d.Status)
	assert.Equal(t, "failed to queue analysis: analysis queue is full", d.ErrorMessage)

	p.Stop()
	third, err := store.Create(ctx, newUploadedDeal("u1", "c.pdf"))
	require.NoError(t, err)
	_, err = p.Queue(ctx, third)
	require.Error(t, err)
	d, err = store.Get(ctx, third)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, d.Status)
}

func TestProcessorRecover(t *testing.T) {
	store := NewMemoryStore(0, nil)
	p := NewProcessor(store, fakeSigner{}, &fakeExtractor{text: "x"}, &fakeAnalyzer{}, ProcessorOptions{QueueSize: 1})
	ctx := context.Background()

	create := func(name string, status model.Status) string {
		id, err := store.Create(ctx, newUploadedDeal("u1", name))
		require.NoError(t, err)
		if status != model.StatusUploaded {
			_, err = store.Update(ctx, id, func(d *model.Deal) error { return d.Advance(status) })
			require.NoError(t, err)
		}
		return id
	}
	uploaded := create("a.pdf", model.StatusUploaded)
	queued := create("b.pdf", model.StatusQueued)
	overflow := create("c.pdf", model.StatusQueued)
	processing := create("d.pdf", model.StatusProcessing)

	require.NoError(t, p.Recover(ctx))

	assert.Equal(t, queued, <-p.queue)
	want := map[string]model.Status{
		uploaded:   model.StatusUploaded,
		queued:     model.StatusQueued,
		overflow:   model.StatusError,
		processing: model.StatusError,
	}
	for id, status := range want {
		d, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, d.Status, d.Filename)
	}
}

func TestProcessorSkipsDealInFlight(t *testing.T) {
	extractor := &fakeExtractor{text: "x"}
	p, store, _, id := newTestProcessor(t, extractor, &fakeAnalyzer{})
	ctx := context.Background()
	_, err := store.Update(ctx, id, func(d *model.Deal) error { return d.Advance(model.StatusProcessing) })
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, id))
	assert.Empty(t, extractor.urls)
}

func TestProcessorEnqueueBounds(t *testing.T) {
	store := NewMemoryStore(0, nil)
	p := NewProcessor(store, fakeSigner{}, &fakeExtractor{}, &fakeAnalyzer{}, ProcessorOptions{QueueSize: 1})

	require.NoError(t, p.Enqueue("a"))
	err := p.Enqueue("b")
	assert.True(t, apperr.Is(err, apperr.CodePipeline))

	p.Stop()
	p.Stop()
	err = p.Enqueue("c")
	assert.True(t, apperr.Is(err, apperr.CodePipeline))
}

func TestProcessorRun(t *testing.T) {
	p, store, _, id := newTestProcessor(t, &fakeExtractor{text: "deck"}, &fakeAnalyzer{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	_, err := p.Queue(ctx, id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		d, err := store.Get(context.Background(), id)
		return err == nil && d.Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
