package codec

import (
	"errors"
	"testing"
)

// frameTokens builds n frames of codec tokens where frame i carries codebook
// index (i*7+slot)%CodebookSize in each slot.
func frameTokens(n int) []int {
	tokens := make([]int, 0, n*TokensPerFrame)
	for i := 0; i < n; i++ {
		for s := 0; s < TokensPerFrame; s++ {
			tokens = append(tokens, TokenOffset+(i*TokensPerFrame+s)%CodebookSize)
		}
	}
	return tokens
}

func TestExtractTruncatesAtEndMarker(t *testing.T) {
	raw := []int{100, TokenOffset + 1, TokenOffset + 2, EndOfAudioID, TokenOffset + 3}
	got := Extract(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 codec tokens, got %d", len(got))
	}
	if got[0] != TokenOffset+1 || got[1] != TokenOffset+2 {
		t.Fatalf("unexpected tokens: %v", got)
	}
}

func TestExtractWithoutEndMarker(t *testing.T) {
	raw := []int{5, MinTokenID, 42, MaxTokenID, MaxTokenID + 1}
	got := Extract(raw)
	if len(got) != 2 {
		t.Fatalf("expected full-stream scan to keep 2 tokens, got %d", len(got))
	}
}

func TestExtractFiltersRange(t *testing.T) {
	raw := []int{MinTokenID - 1, MinTokenID, MaxTokenID, MaxTokenID + 1}
	got := Extract(raw)
	if len(got) != 2 || got[0] != MinTokenID || got[1] != MaxTokenID {
		t.Fatalf("range filter broken: %v", got)
	}
}

func TestUnpackExactFrames(t *testing.T) {
	const n = 5
	levels, err := Unpack(frameTokens(n))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels.L1) != n {
		t.Fatalf("expected %d level-1 codes, got %d", n, len(levels.L1))
	}
	if len(levels.L2) != 2*n {
		t.Fatalf("expected %d level-2 codes, got %d", 2*n, len(levels.L2))
	}
	if len(levels.L3) != 4*n {
		t.Fatalf("expected %d level-3 codes, got %d", 4*n, len(levels.L3))
	}
	for _, lv := range [][]int{levels.L1, levels.L2, levels.L3} {
		for _, v := range lv {
			if v < 0 || v >= CodebookSize {
				t.Fatalf("code %d outside codebook range", v)
			}
		}
	}
	if levels.Frames() != n {
		t.Fatalf("Frames() = %d, want %d", levels.Frames(), n)
	}
}

func TestUnpackSlotLayout(t *testing.T) {
	// One frame with distinct slot values 10..16.
	tokens := make([]int, TokensPerFrame)
	for s := range tokens {
		tokens[s] = TokenOffset + 10 + s
	}
	levels, err := Unpack(tokens)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if levels.L1[0] != 10 {
		t.Fatalf("level 1 should take slot 0, got %d", levels.L1[0])
	}
	if levels.L2[0] != 11 || levels.L2[1] != 14 {
		t.Fatalf("level 2 should take slots 1 and 4, got %v", levels.L2)
	}
	want3 := []int{12, 13, 15, 16}
	for i, w := range want3 {
		if levels.L3[i] != w {
			t.Fatalf("level 3 slot order wrong: got %v, want %v", levels.L3, want3)
		}
	}
}

func TestUnpackDiscardsRemainder(t *testing.T) {
	tokens := append(frameTokens(2), TokenOffset+1, TokenOffset+2, TokenOffset+3)
	levels, err := Unpack(tokens)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if levels.Frames() != 2 {
		t.Fatalf("expected partial frame discarded, got %d frames", levels.Frames())
	}
}

func TestUnpackDropsTrailingEndMarker(t *testing.T) {
	tokens := append(frameTokens(3), EndOfAudioID)
	levels, err := Unpack(tokens)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if levels.Frames() != 3 {
		t.Fatalf("expected 3 frames after marker drop, got %d", levels.Frames())
	}
}

func TestUnpackTooShort(t *testing.T) {
	_, err := Unpack(frameTokens(1)[:TokensPerFrame-1])
	if !errors.Is(err, ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens, got %v", err)
	}
	_, err = Unpack(nil)
	if !errors.Is(err, ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens for empty input, got %v", err)
	}
}
