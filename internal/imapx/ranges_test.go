package imapx

import (
	"errors"
	"testing"
)

func TestChunkRangeCoversExactly(t *testing.T) {
	tests := []struct {
		name      string
		lo, hi    uint32
		chunkSize uint32
		want      int
	}{
		{"single chunk", 1, 100, 1000, 1},
		{"exact multiple", 1, 2000, 1000, 2},
		{"remainder chunk", 1, 2500, 1000, 3},
		{"single uid", 42, 42, 1000, 1},
		{"empty range", 100, 50, 1000, 0},
		{"zero lo", 0, 50, 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkRange(tt.lo, tt.hi, tt.chunkSize)
			if len(chunks) != tt.want {
				t.Fatalf("expected %d chunks, got %d", tt.want, len(chunks))
			}
			if len(chunks) == 0 {
				return
			}

			// 验证无缝覆盖
			if chunks[0].Lo != tt.lo {
				t.Errorf("first chunk starts at %d, want %d", chunks[0].Lo, tt.lo)
			}
			if chunks[len(chunks)-1].Hi != tt.hi {
				t.Errorf("last chunk ends at %d, want %d", chunks[len(chunks)-1].Hi, tt.hi)
			}
			for i := 1; i < len(chunks); i++ {
				if chunks[i].Lo != chunks[i-1].Hi+1 {
					t.Errorf("gap or overlap between chunk %d and %d", i-1, i)
				}
			}
			for _, c := range chunks {
				if c.Width() > tt.chunkSize {
					t.Errorf("chunk [%d,%d] wider than %d", c.Lo, c.Hi, tt.chunkSize)
				}
			}
		})
	}
}

func TestChunkRangeDefaultSize(t *testing.T) {
	chunks := ChunkRange(1, 5000, 0)
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks with default size, got %d", len(chunks))
	}
}

func TestIsInvalidRangeError(t *testing.T) {
	if !IsInvalidRangeError(errors.New("BAD Invalid messageset")) {
		t.Error("expected invalid messageset to match")
	}
	if IsInvalidRangeError(errors.New("connection reset by peer")) {
		t.Error("connection error should not match")
	}
	if IsInvalidRangeError(nil) {
		t.Error("nil should not match")
	}
}
