// Package engine defines the narrow contracts to the two opaque backends the
// pipeline drives: a token-generation service and a hierarchical codec
// decoder. An Instance pairs one of each under a stable identity.
package engine

import (
	"context"

	"github.com/chorus-tts/chorus/internal/codec"
)

// GenerateParams holds the sampling configuration sent with every prompt.
type GenerateParams struct {
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	MaxTokens         int
	MinTokens         int
	StopTokenIDs      []int
}

// Generator produces an ordered token id sequence for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) ([]int, error)
	Ready() bool
}

// Decoder converts hierarchical code levels into audio samples at the
// configured sample rate.
type Decoder interface {
	Decode(ctx context.Context, levels codec.Levels) ([]float32, error)
	Ready() bool
}

// Instance is one generation+decode worker. Its own calls are safe to invoke
// repeatedly but not concurrently; the pool's round-robin assignment keeps
// concurrent requests off the same instance.
type Instance struct {
	id  int
	gen Generator
	dec Decoder
}

func NewInstance(id int, gen Generator, dec Decoder) *Instance {
	return &Instance{id: id, gen: gen, dec: dec}
}

// ID is the stable identity used for logging and health reporting.
func (i *Instance) ID() int { return i.id }

func (i *Instance) Generate(ctx context.Context, prompt string, params GenerateParams) ([]int, error) {
	return i.gen.Generate(ctx, prompt, params)
}

func (i *Instance) Decode(ctx context.Context, levels codec.Levels) ([]float32, error) {
	return i.dec.Decode(ctx, levels)
}

// Healthy reports whether both backends consider themselves loaded.
func (i *Instance) Healthy() bool {
	return i.gen.Ready() && i.dec.Ready()
}
