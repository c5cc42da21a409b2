package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/neohoods/portal-assistant/agent/agents/oneshot"
	"github.com/neohoods/portal-assistant/agent/agents/orchestrator"
	"github.com/neohoods/portal-assistant/agent/agents/reservation"
	routerx "github.com/neohoods/portal-assistant/agent/agents/router"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	"github.com/neohoods/portal-assistant/agent/history"
	llmx "github.com/neohoods/portal-assistant/agent/llm"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	statex "github.com/neohoods/portal-assistant/agent/state"
	"github.com/neohoods/portal-assistant/agent/tool"
	"github.com/neohoods/portal-assistant/agent/toolloop"
	configx "github.com/neohoods/portal-assistant/pkg/config"
	metricsx "github.com/neohoods/portal-assistant/pkg/metrics"
	openrouterx "github.com/neohoods/portal-assistant/pkg/openrouter"
)

const (
	storeMemory  = "memory"
	storeRedis   = "redis"
	storeUpstash = "upstash"

	classifierLoop   = "loop"
	classifierOpenAI = "openai"
)

type appConfig struct {
	Store      string        `default:"memory"`
	StoreTTL   time.Duration `split_words:"true" default:"24h"`
	KeyPrefix  string        `split_words:"true" default:"assistant:conversation:"`
	LockTTL    time.Duration `split_words:"true" default:"2m"`
	Classifier string        `default:"loop"`
}

// app is the wired engine shared by the serve and chat commands.
type app struct {
	orchestrator *orchestrator.Orchestrator
	portal       *tool.MemoryPortal
	registry     *prometheus.Registry
	history      *history.Store
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Warn().Err(err).Msg("close history store")
		}
	}
}

func loadPortal(seedPath string) (*tool.MemoryPortal, error) {
	portalCfg, err := configx.New[tool.PortalConfig]("PORTAL")
	if err != nil {
		return nil, err
	}
	seed := tool.DefaultSeed()
	if seedPath != "" {
		f, err := os.Open(seedPath)
		if err != nil {
			return nil, fmt.Errorf("open seed: %w", err)
		}
		defer f.Close()
		if seed, err = tool.LoadSeed(f); err != nil {
			return nil, err
		}
	}
	return tool.NewMemoryPortal(seed, *portalCfg), nil
}

func buildApp(ctx context.Context, seedPath string) (*app, error) {
	appCfg, err := configx.New[appConfig]("ASSISTANT")
	if err != nil {
		return nil, err
	}
	llmCfg, err := configx.New[llmx.Config]("LLM")
	if err != nil {
		return nil, err
	}
	if err := llmCfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := metricsx.New(registry)

	portal, err := loadPortal(seedPath)
	if err != nil {
		return nil, err
	}
	exec, err := tool.NewExecutor(portal)
	if err != nil {
		return nil, err
	}
	gateway, err := tool.NewGateway(exec, metrics)
	if err != nil {
		return nil, err
	}

	loops := make(map[contractx.Purpose]*toolloop.Loop, 3)
	for _, purpose := range []contractx.Purpose{contractx.PurposeChat, contractx.PurposeClassification, contractx.PurposeStructured} {
		orCfg := llmCfg.OpenRouterFor(purpose)
		chatModel, err := orCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s model: %w", purpose, err)
		}
		loop, err := toolloop.New(chatModel, gateway,
			toolloop.WithSampling(llmCfg.SamplingFor),
			toolloop.WithMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
		loops[purpose] = loop
	}

	store, locker, err := buildStore(appCfg)
	if err != nil {
		return nil, err
	}
	contexts := statex.NewManager(store)
	prompts := promptx.LoadPromptSet()

	classifier, err := buildClassifier(appCfg.Classifier, *llmCfg, loops[contractx.PurposeClassification], prompts.Router, metrics)
	if err != nil {
		return nil, err
	}
	routerCfg, err := configx.New[routerx.Config]("ROUTER")
	if err != nil {
		return nil, err
	}
	router, err := routerx.New(classifier, contexts, *routerCfg, metrics)
	if err != nil {
		return nil, err
	}

	handlers, err := oneshot.Handlers(loops[contractx.PurposeChat], gateway, prompts)
	if err != nil {
		return nil, err
	}
	for w, h := range handlers {
		router.Register(w, h)
	}

	resCfg, err := configx.New[reservation.Config]("RESERVATION")
	if err != nil {
		return nil, err
	}
	machine, err := reservation.New(loops[contractx.PurposeStructured], gateway, contexts, prompts.Reservation, *resCfg, metrics)
	if err != nil {
		return nil, err
	}
	router.Register(contractx.WorkflowReservation, machine)

	historyCfg, err := configx.New[history.Config]("HISTORY")
	if err != nil {
		return nil, err
	}
	historyStore, err := history.Open(ctx, *historyCfg)
	if err != nil {
		return nil, err
	}

	orchCfg, err := configx.New[orchestrator.Config]("ORCHESTRATOR")
	if err != nil {
		_ = historyStore.Close()
		return nil, err
	}
	orch, err := orchestrator.New(router, historyStore, locker, portal, machine, *orchCfg, metrics)
	if err != nil {
		_ = historyStore.Close()
		return nil, err
	}

	log.Info().
		Str("store", appCfg.Store).
		Str("classifier", appCfg.Classifier).
		Str("history", historyCfg.Driver).
		Msg("assistant wired")

	return &app{
		orchestrator: orch,
		portal:       portal,
		registry:     registry,
		history:      historyStore,
	}, nil
}

// buildStore returns the context store and the lock guarding it. Remote
// backends lock through the same server; the memory store locks in process.
func buildStore(cfg *appConfig) (statex.Store, statex.Locker, error) {
	opts := []statex.StoreOption{statex.WithKeyPrefix(cfg.KeyPrefix), statex.WithTTL(cfg.StoreTTL)}

	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", storeMemory:
		return statex.NewMemoryStore(opts...), statex.NewKeyedMutex(), nil
	case storeRedis:
		redisCfg, err := configx.New[statex.RedisConfig]("REDIS")
		if err != nil {
			return nil, nil, err
		}
		client := statex.NewRedisClient(*redisCfg)
		store, err := statex.NewRedisStore(client, opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, statex.NewRedisLocker(client, cfg.KeyPrefix, cfg.LockTTL), nil
	case storeUpstash:
		upstashCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, nil, err
		}
		store, err := statex.NewUpstashRedisStore(*upstashCfg, opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Locker(cfg.LockTTL), nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

func buildClassifier(kind string, cfg llmx.Config, loop *toolloop.Loop, prompt string, m *metricsx.Metrics) (routerx.Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", classifierLoop:
		return routerx.NewLoopClassifier(loop, prompt)
	case classifierOpenAI:
		client := openrouterx.NewClient(cfg.OpenRouterFor(contractx.PurposeClassification))
		if client == nil {
			return nil, errors.New("openai classifier requires LLM_API_KEY")
		}
		return routerx.NewOpenAIClassifier(client, cfg, prompt, m)
	default:
		return nil, fmt.Errorf("unknown classifier %q", kind)
	}
}
