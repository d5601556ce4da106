package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Sonket19/AI-Pitch-Lens/ai"
	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

// DeckAnalyzer is the part of ai.Analyzer the pipeline needs
type DeckAnalyzer interface {
	AnalyzeDeck(ctx context.Context, in ai.DeckInput) (*model.PitchDeckAnalysis, error)
	AssessRisk(ctx context.Context, text string, persona model.Persona) (string, error)
	ExtractFinancials(ctx context.Context, text string) (string, error)
}

// URLSigner issues a short-lived URL the extraction service can fetch
type URLSigner interface {
	GetPresignedURL(ctx context.Context, objectName string) (string, error)
}

type ProcessorOptions struct {
	Workers   int
	QueueSize int
	Persona   model.Persona
}

// Processor runs queued deals through extraction and AI analysis.
// At most Workers deals are processed at once.
type Processor struct {
	store     DealStore
	signer    URLSigner
	extractor TextExtractor
	analyzer  DeckAnalyzer
	persona   model.Persona

	sem   *semaphore.Weighted
	queue chan string
	wg    sync.WaitGroup

	stopOnce sync.Once
	stop     chan struct{}
}

func NewProcessor(store DealStore, signer URLSigner, extractor TextExtractor, analyzer DeckAnalyzer, opts ProcessorOptions) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Persona == "" || opts.Persona == model.PersonaCustom {
		opts.Persona = model.PersonaSaaS
	}
	return &Processor{
		store:     store,
		signer:    signer,
		extractor: extractor,
		analyzer:  analyzer,
		persona:   opts.Persona,
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		queue:     make(chan string, opts.QueueSize),
		stop:      make(chan struct{}),
	}
}

// Queue marks an uploaded deal queued and schedules it. A missing deal is
// NOT_FOUND; a deal that is not uploaded, including one already queued, is
// INVALID_TRANSITION. A deal that cannot be scheduled is failed so it never
// sits in queued with nothing to pick it up.
func (p *Processor) Queue(ctx context.Context, dealID string) (*model.Deal, error) {
	d, err := p.store.Update(ctx, dealID, func(d *model.Deal) error {
		if d.Status != model.StatusUploaded {
			return apperr.Newf(apperr.CodeInvalidTransition, "deal %s is %s, only uploaded deals can be queued", dealID, d.Status)
		}
		d.Status = model.StatusQueued
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := p.Enqueue(dealID); err != nil {
		if ferr := p.fail(logger.WithDeal(ctx, dealID), dealID, "failed to queue analysis: "+apperr.Message(err)); ferr != nil {
			logger.Error(logger.WithDeal(ctx, dealID), "failed to record queue failure", "error", ferr)
		}
		return nil, err
	}
	logger.Info(logger.WithDeal(ctx, dealID), "deal queued for analysis")
	return d, nil
}

// Recover reschedules deals left queued by a previous run and fails deals
// whose processing was interrupted. Call it once before serving, and only on
// the instance that owns the pipeline when several share a database.
func (p *Processor) Recover(ctx context.Context) error {
	stale, err := p.store.ListByStatus(ctx, model.StatusQueued, model.StatusProcessing, model.StatusTextExtracted)
	if err != nil {
		return err
	}
	for _, d := range stale {
		dctx := logger.WithDeal(ctx, d.ID)
		if d.Status == model.StatusQueued {
			if err := p.Enqueue(d.ID); err == nil {
				logger.Info(dctx, "requeued deal after restart")
				continue
			}
		}
		if err := p.fail(dctx, d.ID, "analysis interrupted by a restart"); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue schedules a deal without touching its record
func (p *Processor) Enqueue(dealID string) error {
	select {
	case <-p.stop:
		return apperr.New(apperr.CodePipeline, "processor is stopped")
	default:
	}
	select {
	case p.queue <- dealID:
		return nil
	default:
		return apperr.New(apperr.CodePipeline, "analysis queue is full")
	}
}

// Run processes queued deals until ctx is done or Stop is called, then waits
// for the deals in flight.
func (p *Processor) Run(ctx context.Context) error {
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			return nil
		case dealID := <-p.queue:
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.sem.Release(1)
				if err := p.Process(ctx, dealID); err != nil {
					logger.Error(logger.WithDeal(ctx, dealID), "deal processing failed", "error", err)
				}
			}()
		}
	}
}

func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Process runs the whole pipeline for one deal. Pipeline failures are
// recorded on the deal; the returned error is non-nil only when the record
// itself could not be written.
func (p *Processor) Process(ctx context.Context, dealID string) error {
	ctx = logger.WithDeal(ctx, dealID)

	deal, err := p.store.Get(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.Status != model.StatusUploaded && deal.Status != model.StatusQueued {
		logger.Info(ctx, "deal already picked up, skipping", "status", deal.Status)
		return nil
	}
	if _, err := p.advance(ctx, dealID, model.StatusProcessing, nil); err != nil {
		return err
	}

	text, err := p.extract(ctx, deal)
	if err != nil {
		return p.fail(ctx, dealID, err.Error())
	}
	if _, err := p.advance(ctx, dealID, model.StatusTextExtracted, func(d *model.Deal) {
		d.FullText = text
	}); err != nil {
		return err
	}
	logger.Info(ctx, "deck text extracted", "chars", len(text))

	analysis, err := p.analyze(ctx, text)
	if err != nil {
		return p.fail(ctx, dealID, aiFailureMessage(err))
	}
	if _, err := p.store.Update(ctx, dealID, func(d *model.Deal) error {
		return d.Complete(analysis)
	}); err != nil {
		return err
	}
	logger.Info(ctx, "deal analysis completed", "sections", len(analysis))
	return nil
}

func (p *Processor) extract(ctx context.Context, deal *model.Deal) (string, error) {
	fileURL, err := p.signer.GetPresignedURL(ctx, deal.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to access deck: %w", err)
	}
	text, err := p.extractor.Extract(ctx, fileURL, deal.ID, func(taskID string) {
		if _, err := p.store.Update(ctx, deal.ID, func(d *model.Deal) error {
			d.ExtractionTaskID = taskID
			return nil
		}); err != nil {
			logger.Warn(ctx, "failed to record extraction task", "task_id", taskID, "error", err)
		}
	})
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	if text == "" {
		return "", errors.New("text extraction returned no text")
	}
	return text, nil
}

// analyze runs the risk, financials and structured passes concurrently and
// merges them into the deal analysis map.
func (p *Processor) analyze(ctx context.Context, text string) (map[string]string, error) {
	var (
		risk, financials string
		structured       *model.PitchDeckAnalysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		risk, err = p.analyzer.AssessRisk(gctx, text, p.persona)
		return err
	})
	g.Go(func() (err error) {
		financials, err = p.analyzer.ExtractFinancials(gctx, text)
		return err
	})
	g.Go(func() (err error) {
		structured, err = p.analyzer.AnalyzeDeck(gctx, ai.DeckInput{
			Content:   []byte(text),
			InputType: ai.InputText,
			Persona:   p.persona,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := structured.Sections()
	raw, err := json.Marshal(structured)
	if err != nil {
		return nil, err
	}
	out[model.SectionStructured] = string(raw)
	// the free-text passes replace the flattened risk and financials sections
	if risk != "" {
		out[model.SectionRisk] = risk
	}
	if financials != "" {
		out[model.SectionFinancials] = financials
	}
	return out, nil
}

// advance sets a non-terminal status; the store rejects backward moves
// with INVALID_TRANSITION.
func (p *Processor) advance(ctx context.Context, dealID string, next model.Status, mutate func(*model.Deal)) (*model.Deal, error) {
	return p.store.Update(ctx, dealID, func(d *model.Deal) error {
		d.Status = next
		if mutate != nil {
			mutate(d)
		}
		return nil
	})
}

func (p *Processor) fail(ctx context.Context, dealID, message string) error {
	logger.Warn(ctx, "deal failed", "error", message)
	_, err := p.store.Update(ctx, dealID, func(d *model.Deal) error {
		return d.Fail(message)
	})
	return err
}

func aiFailureMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Code == apperr.CodeAI && appErr.Cause != nil {
		err = appErr.Cause
	}
	return "AI analysis failed: " + err.Error()
}
