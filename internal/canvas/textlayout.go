package canvas

import "github.com/slateroom/slateroom/internal/domain/board"

// Page geometry in logical units. The presentation layer scales to the
// viewport; layout decisions here stay resolution-independent.
const (
	PageHeight = 2000.0

	// slotStep is the fixed vertical shift applied per attempt.
	slotStep = 40.0

	// slotMargin is where a wrapped candidate restarts.
	slotMargin = 16.0

	// maxSlotAttempts bounds the search before falling back.
	maxSlotAttempts = 64
)

func overlapsAny(r board.Rect, taken []board.Rect) bool {
	for _, t := range taken {
		if r.Overlaps(t) {
			return true
		}
	}
	return false
}

// FindSlot returns a position for candidate that does not overlap any
// rect in taken. It shifts vertically in fixed steps, wraps to the
// top-left when the shift would run past the page height, and after a
// bounded number of attempts gives up and places the candidate directly
// below the last registered rect.
func FindSlot(candidate board.Rect, taken []board.Rect, pageHeight float64) board.Rect {
	pos := candidate

	for i := 0; i < maxSlotAttempts; i++ {
		if !overlapsAny(pos, taken) {
			return pos
		}

		pos.Y += slotStep
		if pos.Y+pos.H > pageHeight {
			pos.X = slotMargin
			pos.Y = slotMargin
		}
	}

	last := taken[len(taken)-1]
	pos.X = last.X
	pos.Y = last.Y + last.H + slotStep
	return pos
}
