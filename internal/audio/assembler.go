// Package audio assembles per-segment waveforms into one stream and encodes
// it to the configured output container.
package audio

import (
	"errors"
)

// silenceGap is the pause inserted between consecutive segments.
const silenceGapSeconds = 0.1

// ErrEmptyAudio reports a merge invoked with nothing to merge.
var ErrEmptyAudio = errors.New("no audio waveforms to merge")

// Merge concatenates waveforms in input order with a fixed silence gap
// between each consecutive pair and never after the last. A single waveform
// is returned unchanged.
func Merge(waveforms [][]float32, sampleRate int) ([]float32, error) {
	if len(waveforms) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(waveforms) == 1 {
		return waveforms[0], nil
	}

	gap := int(float64(sampleRate) * silenceGapSeconds)
	total := gap * (len(waveforms) - 1)
	for _, w := range waveforms {
		total += len(w)
	}

	merged := make([]float32, 0, total)
	for i, w := range waveforms {
		merged = append(merged, w...)
		if i < len(waveforms)-1 {
			merged = append(merged, make([]float32, gap)...)
		}
	}
	return merged, nil
}
