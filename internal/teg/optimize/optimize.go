// Package optimize rewrites temporal effect graphs into observably
// equivalent, cheaper graphs. Every pass declares which structure it
// preserves; the pipeline refuses structure-breaking passes unless the
// caller opts in.
package optimize

import (
	"fmt"
	"log/slog"

	"github.com/telic-run/telic/internal/teg"
)

// Config controls a pipeline run.
type Config struct {
	// AllowUnsafePasses admits passes that do not preserve the adjunction
	// or the resource structure of the graph.
	AllowUnsafePasses bool

	// MaxIterations bounds the fixed-point loop. Zero means DefaultMaxIterations.
	MaxIterations int

	// Log receives per-pass debug output. Nil means slog.Default().
	Log *slog.Logger
}

// DefaultMaxIterations bounds pipelines that do not set their own limit.
const DefaultMaxIterations = 16

// Optimization is one graph rewrite. Apply mutates g in place and reports
// whether anything changed.
type Optimization interface {
	Name() string

	// PreservesAdjunction reports whether the pass keeps the
	// effect-handler pairing intact.
	PreservesAdjunction() bool

	// PreservesResourceStructure reports whether the pass keeps every
	// resource flow boundary observable.
	PreservesResourceStructure() bool

	Apply(g *teg.Graph, cfg Config) (bool, error)
}

// Pipeline runs a fixed sequence of passes to a fixed point.
type Pipeline struct {
	cfg    Config
	passes []Optimization
	log    *slog.Logger
}

// NewPipeline builds a pipeline. Unsafe passes are rejected unless
// cfg.AllowUnsafePasses is set.
func NewPipeline(cfg Config, passes ...Optimization) (*Pipeline, error) {
	for _, p := range passes {
		if !cfg.AllowUnsafePasses && (!p.PreservesAdjunction() || !p.PreservesResourceStructure()) {
			return nil, fmt.Errorf("pipeline: pass %q does not preserve graph structure; set AllowUnsafePasses to admit it", p.Name())
		}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, passes: passes, log: log}, nil
}

// Default returns the pipeline of all structure-preserving passes.
func Default(cfg Config) (*Pipeline, error) {
	return NewPipeline(cfg,
		NewConstantFolding(),
		NewDeadEffectElimination(),
		NewAccessCoalescing(),
	)
}

// Run applies every pass repeatedly until none reports a change or the
// iteration limit is hit. Returns the number of full iterations executed.
func (p *Pipeline) Run(g *teg.Graph) (int, error) {
	limit := p.cfg.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	for iter := 1; iter <= limit; iter++ {
		changed := false
		for _, pass := range p.passes {
			c, err := pass.Apply(g, p.cfg)
			if err != nil {
				return iter, fmt.Errorf("pipeline: pass %q: %w", pass.Name(), err)
			}
			if c {
				p.log.Debug("optimization pass changed graph", "pass", pass.Name(), "iteration", iter)
				changed = true
			}
		}
		if !changed {
			return iter, nil
		}
	}
	return limit, nil
}
