package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/httpapi"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/transcript"
	"github.com/ent0n29/voicerelay/internal/upstream"
	"github.com/ent0n29/voicerelay/internal/voice"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Pipeline    *relay.Pipeline
	Client      upstream.Client
	Transcripts transcript.Store
	Metrics     *observability.Metrics

	// Cleanup releases external resources (database pool) on shutdown.
	Cleanup func() error
}

type BuildOptions struct {
	// Registerer overrides the default Prometheus registry.
	Registerer prometheus.Registerer
}

// Build wires config -> metrics -> transcript store -> upstream client -> pipeline -> HTTP API.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts BuildOptions) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics := observability.NewMetricsWithRegistry(cfg.MetricsNamespace, reg)

	var store transcript.Store
	if cfg.TranscriptsEnabled {
		s, err := transcript.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("transcript store init failed: %w", err)
		}
		store = s
	}

	client, err := upstream.NewClient(upstream.Config{
		Route:              cfg.Route,
		URL:                cfg.UpstreamURL,
		Passthrough:        cfg.Passthrough,
		TenantHeaderPrefix: cfg.TenantHeaderPrefix,
		Timeout:            cfg.UpstreamTimeout,
		ErrorBodyLimit:     cfg.ErrorBodyLimit,
		MockDelay:          cfg.ChunkDelay,
	}, logger.Named("upstream"))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("upstream client init failed: %w", err)
	}

	var lexicon *voice.Lexicon
	if cfg.ApplyPronunciations {
		lexicon = voice.DefaultLexicon()
	}
	pipeline := relay.New(client, relay.Options{
		ChunkWords:  cfg.ChunkWords,
		ChunkDelay:  cfg.ChunkDelay,
		Passthrough: cfg.Passthrough,
		Lexicon:     lexicon,
		DefaultCredentials: upstream.Credentials{
			Token:  cfg.DefaultToken,
			UserID: cfg.DefaultUserID,
			OrgID:  cfg.DefaultOrgID,
		},
	}, metrics, store, logger.Named("relay"))

	api := httpapi.New(cfg, pipeline, store, metrics, logger.Named("http"))

	cleanup := func() error {
		var errs []error
		if store != nil {
			if err := store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close transcripts: %w", err))
			}
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Pipeline:    pipeline,
		Client:      client,
		Transcripts: store,
		Metrics:     metrics,
		Cleanup:     cleanup,
	}, nil
}
