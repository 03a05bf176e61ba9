// Package pipeline answers natural-language questions against Aralia data
// planets in five fixed stages: dataset search, chart planning, filter
// decision, execution, and interpretation. Stages share a State and
// contribute Deltas; the orchestrator applies each delta and keeps the
// run's execution record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/config"
	"github.com/araliadata/openrag/llm"
	"github.com/araliadata/openrag/prompts"
)

// Stage is one pipeline step.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *State) (*Delta, error)
}

// Pipeline runs questions through the stages with a fixed set of
// collaborators. Construct once, run many questions.
type Pipeline struct {
	cfg       *config.Config
	logger    *slog.Logger
	llm       LLM
	data      DataClient
	templates *prompts.Set
	stages    []Stage
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithLLM replaces the gateway built from the config.
func WithLLM(gateway LLM) Option {
	return func(p *Pipeline) {
		p.llm = gateway
	}
}

// WithDataClient replaces the planet client built from the config.
func WithDataClient(data DataClient) Option {
	return func(p *Pipeline) {
		p.data = data
	}
}

// WithTemplates replaces the production prompt set.
func WithTemplates(set *prompts.Set) Option {
	return func(p *Pipeline) {
		p.templates = set
	}
}

// New builds a pipeline from the config. The LLM gateway and the planet
// client are constructed from it unless injected through options.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	p := &Pipeline{
		cfg:       cfg,
		logger:    slog.Default(),
		templates: prompts.Default(),
		stages:    defaultStages(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.llm == nil {
		temperature := cfg.Model.Temperature
		gateway, err := llm.NewClient(llm.Config{
			Provider:    cfg.Model.Provider,
			APIKey:      cfg.Model.APIKey,
			Model:       cfg.Model.Name,
			Endpoint:    cfg.Model.Endpoint,
			Temperature: &temperature,
			MaxTokens:   cfg.Model.MaxTokens,
		}, llm.WithLogger(p.logger.With("component", "llm")))
		if err != nil {
			return nil, fmt.Errorf("build llm gateway: %w", err)
		}
		p.llm = gateway
	}
	if p.data == nil {
		p.data = aralia.NewClient(aralia.Credentials{
			SSOURL:       cfg.Planet.SSOURL,
			GalaxyURL:    cfg.Planet.GalaxyURL,
			ClientID:     cfg.Planet.ClientID,
			ClientSecret: cfg.Planet.ClientSecret,
		}, aralia.WithLogger(p.logger.With("component", "aralia")))
	}

	return p, nil
}

func defaultStages() []Stage {
	return []Stage{
		SearchStage{},
		PlanningStage{},
		FilterDecisionStage{},
		ExecutionStage{},
		InterpretationStage{},
	}
}

// Request is one question to answer.
type Request struct {
	// Question is the natural-language question. Required.
	Question string

	// InterpretationPrompt replaces the canned analysis instructions in
	// the final stage.
	InterpretationPrompt string

	// CSVDir overrides the configured CSV artifact directory.
	CSVDir string
}

// Result is the outcome of a run. On failure it still carries everything
// the completed stages produced.
type Result struct {
	FinalResponse string
	SearchResults []*aralia.ChartSpec
	Errors        []string
	Meta          *Metadata
}

// Run executes the stages in order. The first stage error stops the run;
// the returned Result holds the partial state alongside the error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("question is required")
	}

	st := NewState(req.Question)
	st.LLM = p.llm
	st.Data = p.data
	st.Templates = p.templates
	st.Logger = p.logger
	st.InterpretationPrompt = req.InterpretationPrompt
	st.CSVDir = req.CSVDir
	if st.CSVDir == "" {
		st.CSVDir = p.cfg.Output.CSVDir
	}

	logger := p.logger.With("run_id", st.Meta.RunID)
	logger.Info("run starting", "question", req.Question)

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return result(st), err
		}
		if err := p.runStage(ctx, stage, st); err != nil {
			return result(st), err
		}
	}

	logger.Info("run complete",
		"duration", st.Meta.Elapsed(),
		"total_tokens", st.Meta.TotalTokens.TotalTokens)
	return result(st), nil
}

// runStage wraps one stage with timing, token attribution, and error
// recording. Stage token spend is the gateway's cumulative usage delta
// across the stage.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, st *State) error {
	name := stage.Name()
	logger := p.logger.With("run_id", st.Meta.RunID, "stage", name)

	st.Meta.beginStage(name)
	logger.Info("stage starting")

	start := time.Now()
	before := st.LLM.Usage()
	delta, err := stage.Run(ctx, st)
	duration := time.Since(start)
	tokens := st.LLM.Usage().Sub(before)

	if err != nil {
		st.Meta.failStage(name, duration, tokens, err)
		st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", name, err))
		logger.Error("stage failed", "duration", duration, "error", err)
		return fmt.Errorf("%s stage: %w", name, err)
	}

	st.Apply(delta)
	st.Meta.completeStage(name, duration, tokens)
	logger.Info("stage complete", "duration", duration, "tokens", tokens.TotalTokens)
	return nil
}

func result(st *State) *Result {
	return &Result{
		FinalResponse: st.FinalResponse,
		SearchResults: st.SearchResults,
		Errors:        st.Errors,
		Meta:          st.Meta,
	}
}
