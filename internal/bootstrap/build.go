package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"vetrecords/pkg/ai"
	"vetrecords/pkg/extract"
	"vetrecords/pkg/metrics"
	"vetrecords/pkg/pipeline"
	"vetrecords/pkg/queue"
	"vetrecords/pkg/storage"
	"vetrecords/pkg/store"
	"vetrecords/pkg/structuring"
)

// Components are the long-lived backends a service talks to.
type Components struct {
	Store store.Store
	Files storage.Store
	Queue queue.Queue

	closers []io.Closer
}

// Open connects the run store, file storage and broker described by s.
// consumer names this process inside the broker's consumer group.
func Open(ctx context.Context, s Sections, consumer string) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	if strings.EqualFold(strings.TrimSpace(s.DatabaseURL), MemoryDatabaseURL) {
		c.Store = store.NewMemoryStore()
	} else {
		gs, err := store.NewGormStore(s.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		c.Store = gs
		c.closers = append(c.closers, gs)
	}

	files, err := storage.New(ctx, storage.Config{
		Backend:            s.Storage.Backend,
		LocalDir:           s.Storage.LocalDir,
		MinioEndpoint:      s.Storage.MinioEndpoint,
		MinioAccessKey:     s.Storage.MinioAccessKey,
		MinioSecretKey:     s.Storage.MinioSecretKey,
		MinioBucket:        s.Storage.MinioBucket,
		MinioUseSSL:        s.Storage.MinioUseSSL,
		GCSBucket:          s.Storage.GCSBucket,
		GCSCredentialsFile: s.Storage.GCSCredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("init file storage: %w", err)
	}
	c.Files = files
	if closer, isCloser := files.(io.Closer); isCloser {
		c.closers = append(c.closers, closer)
	}

	q, err := queue.New(queue.Config{
		Broker:        s.Queue.Broker,
		Name:          s.Queue.Name,
		Group:         s.Queue.Group,
		Consumer:      consumer,
		MaxRetries:    s.Queue.MaxRetries,
		RetryDelay:    seconds(s.Queue.RetryDelaySeconds),
		RedisAddr:     s.Queue.RedisAddr,
		RedisPassword: s.Queue.RedisPassword,
		ClaimIdle:     seconds(s.Queue.ClaimIdleSeconds),
		AMQPURL:       s.Queue.AMQPURL,
		BufferSize:    s.Queue.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}
	c.Queue = q
	c.closers = append(c.closers, q)

	ok = true
	return c, nil
}

// Close releases backends in reverse order of opening.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// PipelineOptions select what the orchestrator can do in this process.
type PipelineOptions struct {
	// Execute builds the extraction and structuring adapters needed to run tasks.
	Execute   bool
	StatusURL func(runID string) string
	Logger    *slog.Logger
}

// Orchestrator wires the pipeline over c.
func (c *Components) Orchestrator(s Sections, opts PipelineOptions) (*pipeline.Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := pipeline.Config{
		Store:     c.Store,
		Files:     c.Files,
		Queue:     c.Queue,
		Pricing:   s.PricingTable(),
		Logger:    logger,
		StatusURL: opts.StatusURL,
	}
	if opts.Execute {
		gen, err := ai.NewGenerator(ai.Config{
			Provider: s.LLM.Provider,
			BaseURL:  s.LLM.BaseURL,
			APIKey:   s.LLM.APIKey,
			Model:    s.LLM.Model,
			JSON:     true,
			Timeout:  seconds(s.LLM.TimeoutSeconds),
		})
		if err != nil {
			return nil, fmt.Errorf("init llm: %w", err)
		}
		if gen == nil {
			logger.Warn("llm not configured, records will be structured in degraded mode")
		}
		cfg.Structurer = structuring.New(gen, s.LLM.Model, logger)
		cfg.Extractor = extract.NewRouter(extract.Config{
			PdftotextPath: s.Extract.PdftotextPath,
			TesseractPath: s.Extract.TesseractPath,
			OCRLanguage:   s.Extract.OCRLanguage,
			Timeout:       seconds(s.Extract.TimeoutSeconds),
			Logger:        logger,
		})
	}
	return pipeline.New(cfg)
}

// PricingTable applies configured overrides to the built-in rates.
func (s Sections) PricingTable() metrics.Pricing {
	base := metrics.DefaultPricing()
	if len(s.Pricing) == 0 {
		return base
	}
	overrides := make(map[string]metrics.Rate, len(s.Pricing))
	for model, p := range s.Pricing {
		overrides[model] = metrics.PerMillion(p.InputPerMillion, p.OutputPerMillion)
	}
	return base.With(overrides)
}

// WithTaskTimeout bounds every delivery handed to h.
func WithTaskTimeout(h queue.Handler, d time.Duration) queue.Handler {
	if d <= 0 {
		return h
	}
	return func(ctx context.Context, task queue.Task) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return h(ctx, task)
	}
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
