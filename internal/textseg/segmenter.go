// Package textseg splits arbitrary-length input text into token-budgeted
// segments ready for independent generation. Splitting prefers sentence
// boundaries and falls back to word boundaries for oversized sentences.
package textseg

import (
	"errors"
	"regexp"
	"strings"
)

// safetyMargin is subtracted from the budget to absorb the difference between
// the injected token estimator and the generation service's own tokenizer.
const safetyMargin = 10

// ErrEmptyInput reports input that is empty after trimming whitespace.
var ErrEmptyInput = errors.New("no text to segment")

// Counter estimates the token count of a string. It only drives budget
// packing and is not required to match the generation model's tokenizer.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a plain function to the Counter interface.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// NewEstimator returns an approximate byte-length counter,
// tokens ~= ceil(bytes/bytesPerToken). Values <= 0 select the default of 4.
func NewEstimator(bytesPerToken int) Counter {
	if bytesPerToken <= 0 {
		bytesPerToken = 4
	}
	return CounterFunc(func(text string) int {
		n := len(text)
		if n == 0 {
			return 0
		}
		return (n + bytesPerToken - 1) / bytesPerToken
	})
}

// Segment is one token-budgeted slice of the input. Text always starts with
// the shared overhead prefix; OverheadTokens records its estimated cost.
type Segment struct {
	Index          int
	Text           string
	OverheadTokens int
}

// sentence boundaries: terminal punctuation, whitespace, then an uppercase
// letter. A heuristic, not a sentence grammar.
var sentenceBoundary = regexp.MustCompile(`([.!?])\s+([A-Z])`)

type Segmenter struct {
	maxTokens int
	counter   Counter
}

// New builds a segmenter with the given whole-segment token budget.
func New(maxTokens int, counter Counter) *Segmenter {
	return &Segmenter{maxTokens: maxTokens, counter: counter}
}

// Split divides text into segments whose estimated token count, including the
// prepended overhead prefix, stays within the budget. Every non-whitespace
// character of the input appears in exactly one segment.
func (s *Segmenter) Split(text, overhead string) ([]Segment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	overheadTokens := s.counter.Count(overhead)
	available := s.maxTokens - overheadTokens - safetyMargin

	emit := func(segments []Segment, body string) []Segment {
		return append(segments, Segment{
			Index:          len(segments),
			Text:           overhead + body,
			OverheadTokens: overheadTokens,
		})
	}

	if s.counter.Count(text) <= available {
		return emit(nil, text), nil
	}

	var (
		segments []Segment
		current  []string
		tokens   int
	)
	flush := func() {
		if len(current) > 0 {
			segments = emit(segments, strings.Join(current, " "))
			current = current[:0]
			tokens = 0
		}
	}

	for _, sentence := range splitSentences(text) {
		sentenceTokens := s.counter.Count(sentence)

		switch {
		case sentenceTokens > available:
			// Oversized sentence: flush what we have and pack by words.
			flush()
			segments = s.packWords(segments, emit, sentence, available)
		case tokens+sentenceTokens > available:
			flush()
			current = append(current, sentence)
			tokens = sentenceTokens
		default:
			current = append(current, sentence)
			tokens += sentenceTokens
		}
	}
	flush()

	return segments, nil
}

// packWords greedily packs the words of one oversized sentence. A single word
// exceeding the budget is still emitted on its own rather than dropped.
func (s *Segmenter) packWords(segments []Segment, emit func([]Segment, string) []Segment, sentence string, available int) []Segment {
	var (
		words  []string
		tokens int
	)
	for _, word := range strings.Fields(sentence) {
		wordTokens := s.counter.Count(word + " ")
		if tokens+wordTokens > available && len(words) > 0 {
			segments = emit(segments, strings.Join(words, " "))
			words = words[:0]
			tokens = 0
		}
		words = append(words, word)
		tokens += wordTokens
	}
	if len(words) > 0 {
		segments = emit(segments, strings.Join(words, " "))
	}
	return segments
}

// splitSentences cuts text at heuristic sentence boundaries, keeping the
// terminal punctuation with the preceding sentence.
func splitSentences(text string) []string {
	indexes := sentenceBoundary.FindAllStringSubmatchIndex(text, -1)
	var (
		sentences []string
		start     int
	)
	for _, m := range indexes {
		// m[3] is the end of the punctuation group; the uppercase letter at
		// m[4] starts the next sentence.
		cut := m[3]
		if s := strings.TrimSpace(text[start:cut]); s != "" {
			sentences = append(sentences, s)
		}
		start = m[4]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
