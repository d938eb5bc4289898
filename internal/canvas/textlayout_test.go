package canvas

import (
	"testing"

	"github.com/slateroom/slateroom/internal/domain/board"
)

func TestFindSlotKeepsFreePosition(t *testing.T) {
	candidate := board.Rect{X: 50, Y: 50, W: 100, H: 20}

	got := FindSlot(candidate, nil, PageHeight)
	if got != candidate {
		t.Errorf("free candidate must keep its position, got %+v", got)
	}
}

func TestFindSlotShiftsBelowOverlap(t *testing.T) {
	taken := []board.Rect{{X: 40, Y: 40, W: 200, H: 60}}
	candidate := board.Rect{X: 50, Y: 50, W: 100, H: 20}

	got := FindSlot(candidate, taken, PageHeight)

	if overlapsAny(got, taken) {
		t.Errorf("slot %+v still overlaps %+v", got, taken[0])
	}
	if got.X != candidate.X {
		t.Errorf("vertical search must not move X, got %+v", got)
	}
	if got.Y <= candidate.Y {
		t.Errorf("expected a downward shift, got Y=%v", got.Y)
	}
}

func TestFindSlotWrapsAtPageBottom(t *testing.T) {
	// Occupy the candidate's column near the bottom so the first shift
	// runs past the page height.
	taken := []board.Rect{{X: 0, Y: PageHeight - 100, W: 500, H: 100}}
	candidate := board.Rect{X: 100, Y: PageHeight - 90, W: 100, H: 30}

	got := FindSlot(candidate, taken, PageHeight)

	if overlapsAny(got, taken) {
		t.Errorf("wrapped slot %+v still overlaps", got)
	}
	if got.Y >= candidate.Y {
		t.Errorf("expected a wrap toward the top, got Y=%v", got.Y)
	}
}

func TestFindSlotFallsBackAfterLastText(t *testing.T) {
	// Fill the entire page so no slot exists.
	taken := []board.Rect{{X: 0, Y: 0, W: 10000, H: PageHeight}}
	candidate := board.Rect{X: 10, Y: 10, W: 50, H: 20}

	got := FindSlot(candidate, taken, PageHeight)

	last := taken[len(taken)-1]
	if got.Y <= last.Y+last.H-1 {
		t.Errorf("fallback must place below the last text, got %+v", got)
	}
}

func TestSimultaneousPlacementsNeverOverlap(t *testing.T) {
	first := board.Rect{X: 200, Y: 300, W: 180, H: 24}

	second := FindSlot(board.Rect{X: 205, Y: 305, W: 180, H: 24}, []board.Rect{first}, PageHeight)

	if second.Overlaps(first) {
		t.Errorf("second placement %+v overlaps first %+v", second, first)
	}
}
