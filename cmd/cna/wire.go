package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cna/internal/arbiter"
	"cna/internal/ingest"
	"cna/internal/llm/gemini"
	"cna/internal/pipeline"
	pipelinemetrics "cna/internal/pipeline/metrics"
	"cna/internal/platform/config"
	"cna/internal/platform/logger"
	"cna/internal/provenance/kafka"
	"cna/internal/provenance/postgres"
	"cna/internal/stage"
)

const (
	analystInstruction  = "You are a clinical nutrition specialist. Base every statement on the patient data provided."
	reviewerInstruction = "You are a senior clinical nutrition reviewer. Answer only with the requested JSON object."
	reporterInstruction = "You are a clinical nutrition physician writing the final assessment report."
)

// app holds the process-wide collaborators built from config.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	pipeline   *pipeline.Pipeline
	recognizer ingest.Extractor
	closers    []func(context.Context) error
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, registry: prometheus.NewRegistry()}
	if err := a.buildPipeline(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) buildPipeline(ctx context.Context) error {
	cfg := a.cfg
	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}
	modelOpt := gemini.WithModelLogger(a.logger)
	analyst := gemini.NewModel(client, spec(cfg.Models.Analysis, analystInstruction), modelOpt)
	reporter := gemini.NewModel(client, spec(cfg.Models.Reporter, reporterInstruction), modelOpt)
	reviewer := gemini.NewModel(client, spec(cfg.Models.Reviewer, reviewerInstruction), modelOpt)
	recognizer := gemini.NewRecognizer(client, spec(cfg.Models.Ingestion, ""),
		gemini.WithRecognizerLogger(a.logger),
		gemini.WithConcurrency(cfg.Pipeline.IngestConcurrency),
	)

	lang := stage.WithLanguage(cfg.Pipeline.Language)
	stages := pipeline.Stages{
		Clinical:       stage.NewClinical(analyst, lang),
		Anthropometric: stage.NewAnthropometric(analyst, lang),
		Biochemical:    stage.NewBiochemical(analyst, lang),
		Dietary:        stage.NewDietary(analyst, lang),
		Reporter:       stage.NewReporter(reporter, lang),
	}
	arb := arbiter.New(reviewer,
		arbiter.WithLogger(a.logger),
		arbiter.WithThreshold(cfg.Arbiter.ConflictThreshold),
		arbiter.WithLanguage(cfg.Pipeline.Language),
	)

	timeout, err := cfg.StageTimeout()
	if err != nil {
		return err
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(pipelinemetrics.New(a.registry)),
		pipeline.WithIngestor(recognizer),
		pipeline.WithStageTimeout(timeout),
		pipeline.WithConcurrentAnalyses(cfg.Pipeline.ConcurrentAnalyses),
	}
	exporterOpts, err := a.exporters(ctx)
	if err != nil {
		return err
	}
	opts = append(opts, exporterOpts...)

	p, err := pipeline.New(stages, arb, opts...)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	a.pipeline = p
	a.recognizer = recognizer
	return nil
}

// exporters connects the configured audit sinks.
func (a *app) exporters(ctx context.Context) ([]pipeline.Option, error) {
	var opts []pipeline.Option
	if dsn := a.cfg.Audit.PostgresDSN; dsn != "" {
		db, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		exp := postgres.New(db)
		if err := exp.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithExporter(exp))
		a.logger.InfoContext(ctx, "postgres trace export enabled")
	}
	if brokers := a.cfg.Audit.KafkaBrokers; brokers != "" {
		exp, err := kafka.New(brokers, a.cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, exp.Close)
		opts = append(opts, pipeline.WithExporter(exp))
		a.logger.InfoContext(ctx, "kafka trace export enabled", "topic", exp.Topic())
	}
	return opts, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func spec(m config.Model, instruction string) gemini.Spec {
	return gemini.Spec{Name: m.Name, Temperature: m.Temperature, SystemInstruction: instruction}
}
