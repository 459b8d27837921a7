// Command metis runs the agent orchestration engine as a small interactive
// service: it wires config, telemetry, the language model client, the vector
// store, and the skill registry into an agent, then reads one request per
// line from stdin and prints the response as JSON.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/metislabs/metis/pkg/agent"
	"github.com/metislabs/metis/pkg/config"
	"github.com/metislabs/metis/pkg/core"
	"github.com/metislabs/metis/pkg/llm"
	"github.com/metislabs/metis/pkg/llm/openai"
	"github.com/metislabs/metis/pkg/mcp"
	"github.com/metislabs/metis/pkg/resilience"
	"github.com/metislabs/metis/pkg/retrieval"
	"github.com/metislabs/metis/pkg/skills"
	"github.com/metislabs/metis/pkg/telemetry"
	"github.com/metislabs/metis/pkg/vector"
	"github.com/metislabs/metis/pkg/vector/qdrant"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file")
	serveMCP := flag.Bool("mcp", false, "serve the skill registry over stdio as MCP tools")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("metis", version)
		return
	}

	if err := run(*configPath, *serveMCP); err != nil {
		fmt.Fprintln(os.Stderr, "metis:", err)
		os.Exit(1)
	}
}

func run(configPath string, serveMCP bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("metis", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	sink := core.MultiSink{metrics, &core.SlogSink{Logger: logger}}

	retryCfg := resilience.DefaultRetryConfig().
		WithMaxAttempts(cfg.Resilience.MaxAttempts).
		WithMinDelay(cfg.Resilience.MinDelay).
		WithMaxDelay(cfg.Resilience.MaxDelay)

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}
	client := llm.NewClient(provider, llm.ClientConfig{
		EmbeddingDimension: cfg.LLM.Dimension,
		MaxConcurrent:      cfg.Resilience.MaxConcurrent,
		Retry:              &retryCfg,
	}, sink)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	adapter := vector.NewAdapter(store, vector.AdapterConfig{
		Dimension:     cfg.LLM.Dimension,
		MaxConcurrent: cfg.Resilience.MaxConcurrent,
		Retry:         &retryCfg,
	}, sink)
	builder := retrieval.NewBuilder(client, adapter, logger)

	registry := skills.NewRegistry()
	if cfg.Agent.SkillsDir != "" {
		defs, err := skills.LoadDir(cfg.Agent.SkillsDir)
		if err != nil {
			return fmt.Errorf("load skills: %w", err)
		}
		if err := registry.BulkRegister(defs); err != nil {
			return fmt.Errorf("register skills: %w", err)
		}
		logger.Info("skills loaded",
			slog.String("dir", cfg.Agent.SkillsDir),
			slog.Int("count", registry.Count()),
		)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             cfg.Agent.ID,
		FailureThreshold: cfg.Resilience.FailureThreshold,
		Cooldown:         cfg.Resilience.Cooldown,
	})

	ag, err := agent.New(cfg.Agent.ID,
		agent.WithLogger(logger),
		agent.WithSkills(registry, client),
		agent.WithSelector(client, cfg.Agent.SkillLimit),
		agent.WithRetrieval(builder),
		agent.WithHistoryLimit(cfg.Agent.HistoryLimit),
		agent.WithStateLimit(cfg.Agent.StateSizeLimit),
		agent.WithSecurityLifetime(cfg.Agent.SecurityLifetime),
		agent.WithRetry(retryCfg),
		agent.WithBreaker(breaker),
		agent.WithSink(sink),
		agent.WithMetrics(metrics),
		agent.WithIntervals(cfg.Agent.MaintenanceInterval, cfg.Agent.ReportInterval),
	)
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}

	if configPath != "" {
		watcher, werr := config.NewWatcher([]string{configPath},
			config.WithWatchInterval(time.Second),
			config.WithWatchLogger(logger),
		)
		if werr != nil {
			logger.Warn("config watch unavailable", slog.String("error", werr.Error()))
		} else {
			reloadable := config.NewReloadableConfig(cfg)
			watcher.OnChange(func(next *config.Config) {
				reloadable.Update(next)
				ag.SetLimits(next.Agent.HistoryLimit, next.Agent.StateSizeLimit)
				logger.Info("agent limits updated",
					slog.Int("history_limit", next.Agent.HistoryLimit),
					slog.Int("state_size_limit", next.Agent.StateSizeLimit),
				)
			})
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	if serveMCP {
		logger.Info("serving skills over MCP stdio", slog.Int("skills", registry.Count()))
		executor := skills.NewExecutor(registry, client, logger)
		return mcp.NewServer("metis", version, registry, executor).ServeStdio()
	}

	ag.Start()
	defer ag.Stop()

	logger.Info("metis ready",
		slog.String("agent", cfg.Agent.ID),
		slog.String("vector_provider", cfg.Vector.Provider),
		slog.Int("skills", registry.Count()),
	)

	return serve(ctx, ag, logger)
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		var opts []openai.Option
		if cfg.LLM.Model != "" {
			opts = append(opts, openai.WithModel(cfg.LLM.Model))
		}
		return openai.New(opts...), nil
	case "", "mock":
		// The deterministic mock keeps the binary self-contained for
		// local runs without credentials.
		return &llm.MockProvider{Dimension: cfg.LLM.Dimension}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.Vector.Provider {
	case "qdrant":
		store, err := qdrant.New(cfg.Vector.QdrantAddr, cfg.Vector.Collection, cfg.LLM.Dimension)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "", "inmemory":
		return vector.NewInMemory(cfg.LLM.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown vector provider %q", cfg.Vector.Provider)
	}
}

// serve reads one request per line and writes the response as JSON. EOF or a
// signal ends the loop.
func serve(ctx context.Context, ag *agent.Agent, logger *slog.Logger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	encoder := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			resp, err := ag.Process(ctx, agent.Request{Text: line})
			if err != nil {
				encoder.Encode(map[string]string{"error": err.Error()})
				continue
			}
			encoder.Encode(resp)
		}
	}
}
