package board

import (
	"time"

	"github.com/google/uuid"

	"github.com/slateroom/slateroom/internal/identity"
)

type StrokeKind string

const (
	StrokeFreehand  StrokeKind = "freehand"
	StrokeErase     StrokeKind = "erase"
	StrokeText      StrokeKind = "text"
	StrokeLine      StrokeKind = "line"
	StrokeRectangle StrokeKind = "rectangle"
	StrokeCircle    StrokeKind = "circle"
	StrokeTriangle  StrokeKind = "triangle"
	StrokeArrow     StrokeKind = "arrow"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned bounding box.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Stroke is immutable once committed. Undo removes the most recent one;
// nothing ever edits a committed stroke in place.
type Stroke struct {
	ID     uuid.UUID    `json:"id"`
	Kind   StrokeKind   `json:"kind"`
	Points []Point      `json:"points,omitempty"`
	Color  string       `json:"color,omitempty"`
	Width  float64      `json:"width,omitempty"`
	Text   string       `json:"text,omitempty"`
	Size   float64      `json:"size,omitempty"`
	Bounds Rect         `json:"bounds"`
	Author identity.Ref `json:"author"`
}

type Page struct {
	ID              uuid.UUID `json:"id"`
	PageNumber      int       `json:"pageNumber"`
	BackgroundColor string    `json:"backgroundColor"`
	Strokes         []Stroke  `json:"strokes"`
}

func NewPage(number int) *Page {
	return &Page{
		ID:              uuid.New(),
		PageNumber:      number,
		BackgroundColor: "#ffffff",
		Strokes:         make([]Stroke, 0),
	}
}

// Append grows the stroke list. The list only grows by append or shrinks
// by pop-last; there is no reordering.
func (p *Page) Append(s Stroke) {
	p.Strokes = append(p.Strokes, s)
}

// PopLast removes and returns the most recently appended stroke.
func (p *Page) PopLast() (Stroke, bool) {
	if len(p.Strokes) == 0 {
		return Stroke{}, false
	}

	last := p.Strokes[len(p.Strokes)-1]
	p.Strokes = p.Strokes[:len(p.Strokes)-1]
	return last, true
}

func (p *Page) Clear() {
	p.Strokes = p.Strokes[:0]
}

// TextBounds returns the bounding boxes of every committed text stroke.
func (p *Page) TextBounds() []Rect {
	var boxes []Rect
	for _, s := range p.Strokes {
		if s.Kind == StrokeText {
			boxes = append(boxes, s.Bounds)
		}
	}
	return boxes
}

// PermissionSet is the per-participant capability record. The host never
// consults one: host capability checks are implicitly true.
type PermissionSet struct {
	CanDraw  bool `json:"canDraw"`
	CanWrite bool `json:"canWrite"`
	CanErase bool `json:"canErase"`
}

type PendingRequest struct {
	Requester   identity.Ref
	DisplayName string
	RequestedAt time.Time
}

// ActiveGrant tracks who currently holds a live grant, separately from
// the capability flags, so bulk stop-all operations have a roster.
type ActiveGrant struct {
	Participant identity.Ref
	DisplayName string
}
