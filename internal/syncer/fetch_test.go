package syncer

import (
	"testing"

	"mailpipe/internal/imapx"
)

func TestSyncWindowsIncrementalWithBackfill(t *testing.T) {
	// cursor 100, server holds 1..150
	windows := syncWindows(100, 151)

	want := []imapx.UIDRange{
		{Lo: 101, Hi: 150},
		{Lo: 1, Hi: 100},
	}
	if len(windows) != len(want) {
		t.Fatalf("got %d windows %v, want %d", len(windows), windows, len(want))
	}
	for i := range want {
		if windows[i] != want[i] {
			t.Errorf("window[%d] = %v, want %v", i, windows[i], want[i])
		}
	}
}

func TestSyncWindowsBackfillBounded(t *testing.T) {
	windows := syncWindows(500, 501)

	if len(windows) != 1 {
		t.Fatalf("got %d windows %v, want 1", len(windows), windows)
	}
	got := windows[0]
	if got.Hi != 500 {
		t.Errorf("backfill Hi = %d, want cursor 500", got.Hi)
	}
	if width := got.Hi - got.Lo + 1; width != backfillWindow {
		t.Errorf("backfill width = %d, want %d", width, backfillWindow)
	}
}

func TestSyncWindowsSmallMailboxBackfillFromOne(t *testing.T) {
	windows := syncWindows(50, 61)

	want := []imapx.UIDRange{
		{Lo: 51, Hi: 60},
		{Lo: 1, Hi: 50},
	}
	if len(windows) != len(want) {
		t.Fatalf("got %d windows %v, want %d", len(windows), windows, len(want))
	}
	for i := range want {
		if windows[i] != want[i] {
			t.Errorf("window[%d] = %v, want %v", i, windows[i], want[i])
		}
	}
}

func TestSyncWindowsNoCursorBoundedByRecentWindow(t *testing.T) {
	windows := syncWindows(0, 100001)

	if len(windows) != 1 {
		t.Fatalf("got %d windows %v, want 1", len(windows), windows)
	}
	got := windows[0]
	if got.Hi != 100000 {
		t.Errorf("Hi = %d, want 100000", got.Hi)
	}
	if width := got.Hi - got.Lo + 1; width != recentWindow {
		t.Errorf("window width = %d, want %d", width, recentWindow)
	}
}

func TestSyncWindowsNoCursorSmallMailbox(t *testing.T) {
	windows := syncWindows(0, 11)

	want := imapx.UIDRange{Lo: 1, Hi: 10}
	if len(windows) != 1 || windows[0] != want {
		t.Fatalf("got %v, want [%v]", windows, want)
	}
}

func TestSyncWindowsEmptyMailbox(t *testing.T) {
	if windows := syncWindows(0, 0); windows != nil {
		t.Errorf("syncWindows(0, 0) = %v, want nil", windows)
	}
	if windows := syncWindows(0, 1); windows != nil {
		t.Errorf("syncWindows(0, 1) = %v, want nil", windows)
	}
	// cursor already at the tip: only the backfill window remains
	windows := syncWindows(150, 151)
	if len(windows) != 1 || windows[0].Hi != 150 {
		t.Errorf("syncWindows(150, 151) = %v, want single backfill ending at 150", windows)
	}
}
