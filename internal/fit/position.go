package fit

import "strings"

// Position anchors the draw rect when it does not match the canvas exactly.
// The zero value is center.
type Position string

const (
	PositionCenter      Position = "center"
	PositionTop         Position = "top"
	PositionBottom      Position = "bottom"
	PositionLeft        Position = "left"
	PositionRight       Position = "right"
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
)

// ParsePosition also accepts the compass names used by watermark gravity.
func ParsePosition(s string) (Position, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "center", "centre", "middle":
		return PositionCenter, true
	case "top", "north":
		return PositionTop, true
	case "bottom", "south":
		return PositionBottom, true
	case "left", "west":
		return PositionLeft, true
	case "right", "east":
		return PositionRight, true
	case "top-left", "left-top", "northwest":
		return PositionTopLeft, true
	case "top-right", "right-top", "northeast":
		return PositionTopRight, true
	case "bottom-left", "left-bottom", "southwest":
		return PositionBottomLeft, true
	case "bottom-right", "right-bottom", "southeast":
		return PositionBottomRight, true
	default:
		return "", false
	}
}

// anchor returns the fraction of the leftover space placed before the source
// on each axis: 0 pins to the top/left edge, 1 to the bottom/right edge.
func (p Position) anchor() (float64, float64) {
	// Spec.Validate rejects unknown positions before any anchor is taken.
	pos, _ := ParsePosition(string(p))

	switch pos {
	case PositionTop:
		return 0.5, 0
	case PositionBottom:
		return 0.5, 1
	case PositionLeft:
		return 0, 0.5
	case PositionRight:
		return 1, 0.5
	case PositionTopLeft:
		return 0, 0
	case PositionTopRight:
		return 1, 0
	case PositionBottomLeft:
		return 0, 1
	case PositionBottomRight:
		return 1, 1
	default:
		return 0.5, 0.5
	}
}
