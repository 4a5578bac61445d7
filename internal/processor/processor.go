// Package processor holds the event processors run by the consumer harness.
// A processor runs inside the harness's transaction, after the idempotency
// record for the event has been written to the same transaction.
package processor

import (
	"context"
	"sort"

	"gorm.io/gorm"
)

// Processor applies one envelope. Returned errors are classified with
// eventerr; anything unclassified is treated as transient.
type Processor interface {
	Process(ctx context.Context, tx *gorm.DB, env Envelope) error
}

// Func adapts a function to Processor.
type Func func(ctx context.Context, tx *gorm.DB, env Envelope) error

func (f Func) Process(ctx context.Context, tx *gorm.DB, env Envelope) error { return f(ctx, tx, env) }

// Registry routes topics to processors.
type Registry struct {
	byTopic map[string]Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTopic: make(map[string]Processor)}
}

// Register routes topic to p, replacing any previous route.
func (r *Registry) Register(topic string, p Processor) *Registry {
	r.byTopic[topic] = p
	return r
}

// Lookup returns the processor for topic.
func (r *Registry) Lookup(topic string) (Processor, bool) {
	p, ok := r.byTopic[topic]
	return p, ok
}

// Topics lists registered topics in order.
func (r *Registry) Topics() []string {
	out := make([]string, 0, len(r.byTopic))
	for t := range r.byTopic {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
