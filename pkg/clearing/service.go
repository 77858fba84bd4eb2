// Package clearing executes lettrage and bank reconciliation against a backing store.
// Every mutating operation runs in one store transaction and fails with a *Error when a
// precondition does not hold.
package clearing

import (
	"errors"
	"log/slog"
	"time"

	"github.com/shunichi-ikebuchi/clearing-engine/pkg/chart"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/ledger"
	"github.com/shunichi-ikebuchi/clearing-engine/pkg/matching"
)

// Service is the clearing executor.
type Service struct {
	store  Store
	chart  *chart.Chart
	opts   matching.Options
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMatchingOptions overrides the matching defaults.
func WithMatchingOptions(opts matching.Options) Option {
	return func(s *Service) {
		s.opts = opts
	}
}

// WithClock sets the time source used for clearing dates and link timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service over store. A nil chart uses chart.Default().
func NewService(store Store, c *chart.Chart, opts ...Option) *Service {
	if c == nil {
		c = chart.Default()
	}
	s := &Service{
		store:  store,
		chart:  c,
		opts:   matching.DefaultOptions(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func isNotFound(err error) bool {
	return errors.Is(err, ledger.ErrNotFound)
}
