package canvas

import "fmt"

// MaxColor is the highest colour code the board understands.
const MaxColor Color = 32

// ColorToDigit encodes a colour as its single board digit: 0-9 then a-w.
func ColorToDigit(c Color) (byte, error) {
	switch {
	case c <= 9:
		return '0' + byte(c), nil
	case c <= MaxColor:
		return 'a' + byte(c-10), nil
	default:
		return 0, fmt.Errorf("color %d out of range 0-%d", c, MaxColor)
	}
}

// DigitToColor decodes a board digit. Only 0-9 and a-w (case-insensitive)
// are accepted; anything else, including the rest of the alphabet, is an
// error rather than a silently widened value.
func DigitToColor(d byte) (Color, error) {
	switch {
	case d >= '0' && d <= '9':
		return Color(d - '0'), nil
	case d >= 'a' && d <= 'w':
		return Color(d-'a') + 10, nil
	case d >= 'A' && d <= 'W':
		return Color(d-'A') + 10, nil
	default:
		return Unknown, fmt.Errorf("invalid color digit %q", d)
	}
}

// ValidColor reports whether n is a colour the board accepts.
func ValidColor(n int) bool {
	return n >= 0 && n <= int(MaxColor)
}
