package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pulsefit/retain/internal/config"
	"github.com/pulsefit/retain/internal/logger"
	"github.com/pulsefit/retain/pkg/agent"
	"github.com/pulsefit/retain/pkg/coretools"
	"github.com/pulsefit/retain/pkg/memory"
	"github.com/pulsefit/retain/pkg/outbox"
	"github.com/pulsefit/retain/pkg/session"
	"github.com/pulsefit/retain/pkg/skills"
	"github.com/pulsefit/retain/pkg/tools"
)

// runtime bundles the wired components one CLI invocation needs.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *session.SQLiteStore
	engine *agent.Engine
	outbox *outbox.Outbox
	skills *skills.Library
	memory *memory.Store
}

func (r *runtime) Close() {
	if r.skills != nil {
		r.skills.Close()
	}
	if r.memory != nil {
		r.memory.Close()
	}
	if r.outbox != nil {
		r.outbox.Close()
	}
	if r.store != nil {
		r.store.Close()
	}
	if r.log != nil {
		r.log.Close()
	}
}

// buildRuntime loads configuration and wires the session engine.
func buildRuntime() (*runtime, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: log}

	rt.store, err = session.NewSQLiteStore(cfg.Sessions.DBPath, log.Zerolog())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	rt.outbox, err = outbox.New(filepath.Join(cfg.DataDir, "outbox.db"), log.Zerolog())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}

	rt.memory, err = memory.NewStore(filepath.Join(cfg.DataDir, "memory.db"), log.Zerolog())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	var embedder skills.Embedder
	if cfg.OpenAI.APIKey != "" {
		embedder = skills.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel)
	}
	if err := os.MkdirAll(cfg.Skills.Dir, 0755); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create skills directory: %w", err)
	}
	rt.skills, err = skills.NewLibrary(skills.Config{
		Dir:      cfg.Skills.Dir,
		DBPath:   cfg.Skills.DBPath,
		Logger:   log.Zerolog(),
		Embedder: embedder,
		Watch:    cfg.Skills.Watch,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open skill library: %w", err)
	}

	registry := tools.NewRegistry()
	if err := coretools.Register(registry, coretools.Options{
		Messenger:              rt.outbox,
		TaskBoard:              rt.outbox,
		Notes:                  noteKeeper{rt.memory},
		AutoDiscountLimitCents: cfg.Tools.AutoDiscountLimitCents,
	}); err != nil {
		rt.Close()
		return nil, err
	}

	assembler := &agent.Assembler{
		Base:      agent.StaticBase(cfg.BaseContext),
		Skills:    rt.skills,
		Memory:    rt.memory,
		MaxSkills: cfg.Skills.Max,
		Logger:    log.Zerolog(),
	}

	rt.engine, err = agent.NewEngine(agent.Config{
		Store:       rt.store,
		Registry:    registry,
		Provider:    agent.NewAnthropicProvider(cfg.Anthropic.APIKey),
		Assembler:   assembler,
		Price:       modelPrice,
		Logger:      log.Zerolog(),
		NudgeDelays: nudgeDelays(cfg.Nudges.BackoffHours),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

// noteKeeper adapts the memory store to the tool-facing interface, which
// does not need the created note back.
type noteKeeper struct {
	store *memory.Store
}

func (n noteKeeper) Remember(ctx context.Context, accountID, category, text string) error {
	_, err := n.store.Remember(ctx, accountID, category, text)
	return err
}

func nudgeDelays(hours []int) []time.Duration {
	delays := make([]time.Duration, 0, len(hours))
	for _, h := range hours {
		delays = append(delays, time.Duration(h)*time.Hour)
	}
	return delays
}

// modelPrice returns the dollar cost of one turn. Rates are per million
// tokens and follow the published Claude pricing tiers.
func modelPrice(inputTokens, outputTokens int, model string) float64 {
	inRate, outRate := 3.0, 15.0 // sonnet default
	switch {
	case strings.Contains(model, "haiku"):
		inRate, outRate = 0.8, 4.0
	case strings.Contains(model, "opus"):
		inRate, outRate = 15.0, 75.0
	}
	return float64(inputTokens)/1e6*inRate + float64(outputTokens)/1e6*outRate
}

// startParamsFromConfig seeds session parameters with configured defaults.
func startParamsFromConfig(cfg *config.Config, goal string) agent.StartParams {
	return agent.StartParams{
		AccountID:   "default",
		Goal:        goal,
		CreatedBy:   "cli",
		Mode:        session.Mode(cfg.Sessions.Mode),
		Model:       cfg.Anthropic.Model,
		MaxTurns:    cfg.Sessions.MaxTurns,
		BudgetCents: cfg.Sessions.BudgetCents,
	}
}
