package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/legal-lead-agents/agent/agents/orchestrator"
	specialistx "github.com/tanpawarit/legal-lead-agents/agent/agents/specialist"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	"github.com/tanpawarit/legal-lead-agents/agent/execlog"
	"github.com/tanpawarit/legal-lead-agents/agent/intake"
	llmx "github.com/tanpawarit/legal-lead-agents/agent/llm"
	personax "github.com/tanpawarit/legal-lead-agents/agent/persona"
	statex "github.com/tanpawarit/legal-lead-agents/agent/state"
	toolx "github.com/tanpawarit/legal-lead-agents/agent/tool"
	"github.com/tanpawarit/legal-lead-agents/agent/worker"
	configx "github.com/tanpawarit/legal-lead-agents/pkg/config"
	_ "github.com/tanpawarit/legal-lead-agents/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/legal-lead-agents/pkg/metrics"
	openrouterx "github.com/tanpawarit/legal-lead-agents/pkg/openrouter"
	qstashx "github.com/tanpawarit/legal-lead-agents/pkg/qstash"
)

type AppConfig struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"20s"`
	GinMode         string        `envconfig:"GIN_MODE" default:"release"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("lead pipeline stopped")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")
	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	invokerCfg := configx.MustNew[llmx.InvokerConfig]("INVOKER")
	contextCfg := configx.MustNew[statex.Config]("CONTEXT")
	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	execlogCfg := configx.MustNew[execlog.Config]("EXECLOG")
	pipelineCfg := configx.MustNew[orchestratorx.Config]("PIPELINE")
	workerCfg := configx.MustNew[worker.Config]("WORKER")
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")

	metrics := metricsx.New()

	modelClient, err := newModelClient(*openRouterCfg, invokerCfg.MaxTokens)
	if err != nil {
		return err
	}

	execLogger, err := newExecutionLogger(ctx, *execlogCfg, metrics)
	if err != nil {
		return err
	}

	storeOpts := []statex.ContextStoreOption{}
	if redisCfg.Enabled() {
		backend, err := statex.NewUpstashRedisStore(*redisCfg, statex.WithTTL(contextCfg.TTL))
		if err != nil {
			return fmt.Errorf("context backend: %w", err)
		}
		storeOpts = append(storeOpts, statex.WithBackend(backend))
		log.Info().Msg("shared context write-through to upstash redis enabled")
	}
	store := statex.NewContextStore(*contextCfg, storeOpts...)

	catalog, err := personax.Default()
	if err != nil {
		return fmt.Errorf("persona catalog: %w", err)
	}

	dispatcher := toolx.NewDispatcher(metrics)
	if err := toolx.RegisterBuiltins(dispatcher, store); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	invoker, err := llmx.NewInvoker(modelClient, execLogger, *invokerCfg,
		llmx.WithMetrics(metrics),
		llmx.WithModelDefaults(llmx.ModelDefaults{
			Model:       openRouterCfg.Model,
			Temperature: openRouterCfg.Temperature,
			MaxTokens:   invokerCfg.MaxTokens,
		}),
	)
	if err != nil {
		return fmt.Errorf("invoker: %w", err)
	}

	team, err := specialistx.NewTeam(ctx, catalog, invoker, dispatcher, specialistx.TeamConfig{
		AggregationExtraAttempts: pipelineCfg.AggregationExtraAttempts,
	})
	if err != nil {
		return fmt.Errorf("agent team: %w", err)
	}

	orch, err := orchestratorx.New(team, catalog, store, *pipelineCfg, orchestratorx.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if worst := invokerCfg.WorstCaseLatency(); worst > pipelineCfg.RunTimeout {
		log.Warn().Dur("invocation_worst_case", worst).Dur("run_timeout", pipelineCfg.RunTimeout).
			Msg("a single invocation can outlive the run timeout")
	}

	pool, err := worker.New(orch, *workerCfg,
		worker.WithMetrics(metrics),
		worker.WithRunContext(orchestratorx.WithRunID),
		worker.WithResultFunc(func(job worker.Job, res contractx.PipelineResult) {
			log.Debug().Str("run_id", res.RunID).Str("lead_id", job.Lead.ID).
				Str("status", string(res.Status)).Int("trace_len", len(res.Trace)).
				Msg("lead run result")
		}),
	)
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	handlerOpts := []intake.Option{}
	if qstashCfg.Enabled() {
		handlerOpts = append(handlerOpts, intake.WithVerifier(qstashx.MustNewVerifier(*qstashCfg)))
		log.Info().Msg("qstash signature verification enabled")
	}

	gin.SetMode(appCfg.GinMode)
	server := &http.Server{
		Addr:              appCfg.HTTPAddr,
		Handler:           intake.NewRouter(intake.NewHandler(pool, handlerOpts...), metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", appCfg.HTTPAddr).Msg("lead intake listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("worker shutdown: %w", err))
	}
	if err := execLogger.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("execution log shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func newModelClient(cfg openrouterx.Config, maxTokens int) (contractx.ModelClient, error) {
	defaults := llmx.ModelDefaults{Model: cfg.Model, Temperature: cfg.Temperature, MaxTokens: maxTokens}

	switch strings.TrimSpace(cfg.Driver) {
	case openrouterx.DriverEino:
		return llmx.NewChatModelClient(func(ctx context.Context, modelName string) (einomodel.BaseChatModel, error) {
			return cfg.NewChatModel(ctx, modelName)
		}, defaults)
	default:
		client := openrouterx.NewClient(cfg)
		if client == nil {
			return nil, errors.New("failed to initialize openrouter client")
		}
		return llmx.NewCompletionClient(client, defaults)
	}
}

func newExecutionLogger(ctx context.Context, cfg execlog.Config, metrics *metricsx.Recorder) (*execlog.Logger, error) {
	var sink execlog.Sink
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		bunSink, err := execlog.OpenBunSink(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("execution log sink: %w", err)
		}
		sink = bunSink
		log.Info().Msg("execution log persisted to postgres")
	} else {
		sink = execlog.NewLogSink(log.Logger)
	}
	return execlog.New(cfg, sink, metrics)
}
