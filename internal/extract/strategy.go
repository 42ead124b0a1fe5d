// Package extract estimates the order value and order identifier of a
// conversion page from the richest signal available. Strategies share one
// interface and run in priority order; the first positive, plausible value
// wins and lower-priority strategies never override it.
package extract

import (
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
)

// Context carries everything a strategy may consult.
type Context struct {
	Page   *page.Context
	Config domain.SiteConfig
}

// Strategy is one rung of the value-extraction ladder.
type Strategy interface {
	// Name identifies the strategy in logs and results.
	Name() string
	// Attempt returns a value and whether the strategy produced one. A
	// strategy must swallow its own parse failures and report false.
	Attempt(ctx *Context) (float64, bool)
}

// Extractor evaluates the strategy ladder.
type Extractor struct {
	strategies []Strategy
	logger     logger.Logger
}

// New creates an extractor with the default ladder: operator configuration,
// URL parameters, data-layer events, structured data, platform globals,
// meta tags, then the DOM heuristic scan.
func New(log logger.Logger) *Extractor {
	return NewWithStrategies(log,
		&operatorStrategy{},
		&urlParamsStrategy{},
		&dataLayerStrategy{},
		&structuredDataStrategy{},
		&globalsStrategy{},
		&metaTagsStrategy{},
		&domScanStrategy{},
	)
}

// NewWithStrategies creates an extractor with an explicit ladder, highest
// priority first.
func NewWithStrategies(log logger.Logger, strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies, logger: log}
}

// Value runs the ladder and returns the winning value and the name of the
// strategy that produced it.
func (e *Extractor) Value(ctx *Context) (float64, string, bool) {
	for _, s := range e.strategies {
		if value, ok := s.Attempt(ctx); ok {
			e.logger.Debug("value extracted",
				logger.String("strategy", s.Name()),
				logger.Float64("value", value),
			)
			return value, s.Name(), true
		}
	}
	return 0, "", false
}
