package generation

import (
	"github.com/m-mizutani/atelier/pkg/history"
	"github.com/m-mizutani/atelier/pkg/interfaces"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/policy"
)

// UseCase runs user triggered generations and records successful ones in
// the history of the tool
type UseCase struct {
	generator interfaces.ImageGenerator
	stores    *history.Stores[*model.GenerationRecord]
	policy    *policy.Policy

	now   func() int64
	newID func() model.RecordID
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock replaces the epoch milliseconds clock used for record timestamps
func WithClock(now func() int64) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// WithPolicy checks every request with policy before calling the API
func WithPolicy(p *policy.Policy) Option {
	return func(uc *UseCase) {
		uc.policy = p
	}
}

// WithIDGenerator replaces the record ID generator
func WithIDGenerator(newID func() model.RecordID) Option {
	return func(uc *UseCase) {
		uc.newID = newID
	}
}

// New creates a new generation UseCase instance
func New(
	generator interfaces.ImageGenerator,
	stores *history.Stores[*model.GenerationRecord],
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		generator: generator,
		stores:    stores,
		now:       model.NowMillis,
		newID:     model.NewRecordID,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}
