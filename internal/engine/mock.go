package engine

import (
	"context"
	"math"

	"github.com/chorus-tts/chorus/internal/codec"
)

// decodeWarmup approximates the decoder's initialization transient so the
// dispatcher's warmup trim behaves identically against mock and real
// backends.
const decodeWarmup = 2048

// samplesPerFrame is the nominal hop of the 24 kHz codec decoder.
const samplesPerFrame = 512

// mockGenerator emits a deterministic codec token stream whose length scales
// with the prompt, terminated by the end-of-audio marker.
type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(_ context.Context, prompt string, params GenerateParams) ([]int, error) {
	frames := len(prompt) / 16
	if frames < 4 {
		frames = 4
	}
	if max := params.MaxTokens / codec.TokensPerFrame; params.MaxTokens > 0 && frames > max {
		frames = max
	}
	tokens := make([]int, 0, frames*codec.TokensPerFrame+1)
	for i := 0; i < frames*codec.TokensPerFrame; i++ {
		tokens = append(tokens, codec.TokenOffset+i%codec.CodebookSize)
	}
	tokens = append(tokens, codec.EndOfAudioID)
	return tokens, nil
}

func (m *mockGenerator) Ready() bool { return true }

// mockDecoder synthesizes a quiet sine per frame, prefixed with the warmup
// transient a real decoder would produce.
type mockDecoder struct {
	sampleRate int
}

func NewMockDecoder(sampleRate int) Decoder { return &mockDecoder{sampleRate: sampleRate} }

func (m *mockDecoder) Decode(_ context.Context, levels codec.Levels) ([]float32, error) {
	n := decodeWarmup + levels.Frames()*samplesPerFrame
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.1 * math.Sin(2*math.Pi*220*float64(i)/float64(m.sampleRate)))
	}
	return samples, nil
}

func (m *mockDecoder) Ready() bool { return true }
