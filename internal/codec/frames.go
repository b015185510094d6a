// Package codec extracts hierarchical audio codes from raw model token
// streams. The generation model interleaves codec tokens into its output
// vocabulary; this package recovers the per-level codebook indices the
// neural decoder consumes.
package codec

import (
	"errors"
	"fmt"
)

// Token vocabulary layout for the 24 kHz hierarchical codec. These ids are
// specific to one model vocabulary; retargeting to a different codec requires
// re-deriving them from that codec's token map.
const (
	// EndOfAudioID terminates a generated audio stream.
	EndOfAudioID = 128258

	// TokenOffset is the additive offset separating codec tokens from the
	// text vocabulary. A raw codec token id is TokenOffset plus a codebook
	// index in [0, CodebookSize).
	TokenOffset = 128266

	// MinTokenID and MaxTokenID bound the reserved codec token range.
	MinTokenID = 128266
	MaxTokenID = 156937

	// TokensPerFrame is the number of consecutive codec tokens encoding one
	// time step across all three levels.
	TokensPerFrame = 7

	// CodebookSize is the per-level alphabet width.
	CodebookSize = 4096
)

// ErrInsufficientTokens reports a codec token sequence too short to form a
// single frame. Callers must not attempt a decode with empty levels.
var ErrInsufficientTokens = errors.New("insufficient codec tokens for one frame")

// Levels holds the three hierarchical code sequences for one segment, coarse
// to fine. Per frame, one value lands in L1, two in L2 and four in L3.
type Levels struct {
	L1 []int
	L2 []int
	L3 []int
}

// Frames returns the number of complete frames the levels describe.
func (l Levels) Frames() int { return len(l.L1) }

// Extract scans raw generated token ids for codec tokens. The stream is
// truncated at the first end-of-audio marker (the full stream is used when
// the marker is absent) and only ids inside the reserved codec range are
// kept, in their original order.
func Extract(raw []int) []int {
	end := len(raw)
	for i, id := range raw {
		if id == EndOfAudioID {
			end = i
			break
		}
	}

	codes := make([]int, 0, end)
	for _, id := range raw[:end] {
		if id >= MinTokenID && id <= MaxTokenID {
			codes = append(codes, id)
		}
	}
	return codes
}

// Unpack converts a flat codec token sequence into the three hierarchical
// levels. A trailing end-of-audio marker is dropped, trailing partial frames
// are discarded, and each slot is reduced to its codebook index by removing
// the token offset modulo the codebook size. The modulo is intentional: it
// recovers the index regardless of which logical codebook a slot maps to.
func Unpack(tokens []int) (Levels, error) {
	if n := len(tokens); n > 0 && tokens[n-1] == EndOfAudioID {
		tokens = tokens[:n-1]
	}

	frames := len(tokens) / TokensPerFrame
	if frames == 0 {
		return Levels{}, fmt.Errorf("%w: got %d, need %d", ErrInsufficientTokens, len(tokens), TokensPerFrame)
	}
	tokens = tokens[:frames*TokensPerFrame]

	levels := Levels{
		L1: make([]int, 0, frames),
		L2: make([]int, 0, 2*frames),
		L3: make([]int, 0, 4*frames),
	}
	for i := 0; i < frames; i++ {
		slots := tokens[i*TokensPerFrame : (i+1)*TokensPerFrame]
		levels.L1 = append(levels.L1, index(slots[0]))
		levels.L2 = append(levels.L2, index(slots[1]), index(slots[4]))
		levels.L3 = append(levels.L3, index(slots[2]), index(slots[3]), index(slots[5]), index(slots[6]))
	}
	return levels, nil
}

func index(token int) int {
	idx := (token - TokenOffset) % CodebookSize
	if idx < 0 {
		idx += CodebookSize
	}
	return idx
}
