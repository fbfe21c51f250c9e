package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/presales/internal/agent"
	"github.com/ent0n29/presales/internal/completion"
	"github.com/ent0n29/presales/internal/config"
	"github.com/ent0n29/presales/internal/dispatch"
	"github.com/ent0n29/presales/internal/estimate"
	"github.com/ent0n29/presales/internal/httpapi"
	"github.com/ent0n29/presales/internal/leads"
	"github.com/ent0n29/presales/internal/observability"
	"github.com/ent0n29/presales/internal/protocol"
	"github.com/ent0n29/presales/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Resolver *estimate.Resolver
	Leads    leads.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the service from cfg. ctx bounds startup I/O only; baseCtx is
// handed to turn handlers and should outlive individual connections.
func Build(ctx, baseCtx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := leads.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("lead store init failed: %w", err)
	}
	var pool *pgxpool.Pool
	if pg, ok := store.(*leads.PostgresStore); ok {
		pool = pg.Pool()
	}

	resolver, source, err := BuildResolver(ctx, cfg, pool)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cfg.EstimateSource = source

	gateway, err := completion.NewGateway(completion.Config{
		Mode:        cfg.CompletionMode,
		HTTPURL:     cfg.CompletionHTTPURL,
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		MaxTokens:   cfg.OpenAIMaxTokens,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("completion gateway init failed: %w", err)
	}
	log.Info().
		Str("completion", fmt.Sprintf("%T", gateway)).
		Str("estimate_source", source).
		Int("estimates", resolver.Catalog().Len()).
		Bool("postgres", pool != nil).
		Msg("service components ready")

	sessions := session.NewManager(session.Options{
		InactivityTimeout: cfg.SessionInactivityTimeout,
		PendingLimit:      cfg.SessionPendingLimit,
		MemoryWindow:      cfg.MemoryWindow,
		NewDispatcher:     func() *dispatch.Machine { return dispatch.NewMachine(resolver, store) },
		BaseContext:       baseCtx,
		Metrics:           metrics,
	})
	sessions.SetHandler(agent.New(gateway, agent.Options{
		Timeout: cfg.CompletionTimeout,
		Metrics: metrics,
	}))
	sessions.SetExpireHook(func(s *session.Session) {
		s.Send(protocol.NewSystemEvent(s.ClientID, "session_expired", "closed after inactivity"))
	})

	var ready httpapi.ReadinessCheck
	if pool != nil {
		ready = pool.Ping
	}
	api := httpapi.New(cfg, sessions, resolver, metrics, ready)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Resolver: resolver,
		Leads:    store,
		Metrics:  metrics,
		Cleanup:  store.Close,
	}, nil
}

// BuildResolver loads the estimate catalog from the configured source and
// reports which source was used. pool may be nil when no database is set.
func BuildResolver(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (*estimate.Resolver, string, error) {
	source := strings.ToLower(strings.TrimSpace(cfg.EstimateSource))
	if source == "" || source == "auto" {
		switch {
		case strings.TrimSpace(cfg.EstimateCatalogPath) != "":
			source = "yaml"
		case pool != nil:
			source = "postgres"
		default:
			source = "defaults"
		}
	}

	var (
		records []estimate.Record
		err     error
	)
	switch source {
	case "defaults":
		records = estimate.Defaults()
	case "yaml":
		records, err = estimate.LoadYAML(cfg.EstimateCatalogPath)
	case "postgres":
		if pool == nil {
			return nil, "", errors.New("estimate source postgres requires DATABASE_URL")
		}
		records, err = estimate.LoadPostgres(ctx, pool)
	default:
		return nil, "", fmt.Errorf("unknown estimate source %q", source)
	}
	if err != nil {
		return nil, "", fmt.Errorf("estimate catalog load failed: %w", err)
	}

	catalog, err := estimate.NewCatalog(records)
	if err != nil {
		return nil, "", fmt.Errorf("estimate catalog invalid: %w", err)
	}
	minScore := cfg.EstimateMatchMinScore
	if minScore <= 0 {
		minScore = estimate.DefaultMinScore
	}
	return estimate.NewResolver(catalog, minScore), source, nil
}
