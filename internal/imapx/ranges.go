package imapx

import (
	"context"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// DefaultChunkSize bounds the width of a single UID SEARCH range.
// Wider windows are split so no single request is unbounded.
const DefaultChunkSize = 1000

// UIDRange 闭区间 [Lo, Hi]
type UIDRange struct {
	Lo uint32
	Hi uint32
}

// Width returns the number of identifiers the range covers.
func (r UIDRange) Width() uint32 {
	return r.Hi - r.Lo + 1
}

// Set converts the range to a wire UID set.
func (r UIDRange) Set() imap.UIDSet {
	var set imap.UIDSet
	set.AddRange(imap.UID(r.Lo), imap.UID(r.Hi))
	return set
}

// ChunkRange splits [lo, hi] into consecutive ranges at most chunkSize
// wide. Together the chunks cover the input exactly once.
func ChunkRange(lo, hi uint32, chunkSize uint32) []UIDRange {
	if hi < lo || lo == 0 {
		return nil
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	var chunks []UIDRange
	for start := lo; start <= hi; {
		end := start + chunkSize - 1
		if end > hi || end < start { // overflow guard
			end = hi
		}
		chunks = append(chunks, UIDRange{Lo: start, Hi: end})
		if end == hi {
			break
		}
		start = end + 1
	}
	return chunks
}

// IsInvalidRangeError matches the protocol error some servers return
// for UID sets they refuse to parse. Recovered by sub-chunk retry.
func IsInvalidRangeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid messageset") || strings.Contains(msg, "could not parse command")
}

// SearchRangeResilient enumerates existing UIDs in [lo, hi], recovering
// from invalid-range errors by halving the window down to single UIDs.
// Single UIDs that still fail are skipped: the backfill on the next run
// gets another chance at them.
func SearchRangeResilient(ctx context.Context, s *Session, lo, hi uint32) ([]imap.UID, error) {
	r := UIDRange{Lo: lo, Hi: hi}
	uids, err := s.SearchUIDRange(ctx, r.Set())
	if err == nil {
		return uids, nil
	}
	if !IsInvalidRangeError(err) {
		return nil, err
	}

	if lo >= hi {
		return nil, nil
	}

	mid := lo + (hi-lo)/2
	left, err := SearchRangeResilient(ctx, s, lo, mid)
	if err != nil {
		return nil, err
	}
	right, err := SearchRangeResilient(ctx, s, mid+1, hi)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}
