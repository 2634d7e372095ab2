package target

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/dyluth/daub/internal/canvas"
	"github.com/dyluth/daub/internal/errkind"
)

type objectEntry struct {
	X     *int `json:"x"`
	Y     *int `json:"y"`
	Color *int `json:"color"`
}

// LoadFile reads a target file: a JSON array whose elements are either
// [x, y, color] triples or {"x":..,"y":..,"color":..} objects. Every entry
// must lie on a width×height board and use a valid colour.
func LoadFile(path string, width, height int) ([]Entry, error) {
	const op = "load targets"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.FileAccess, op, fmt.Errorf("failed to read target file: %w", err))
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errkind.New(errkind.ConfigParse, op, fmt.Errorf("failed to parse target file: %w", err))
	}

	entries := make([]Entry, 0, len(raw))
	for i, item := range raw {
		x, y, color, err := decodeItem(item)
		if err != nil {
			return nil, errkind.Errorf(errkind.ConfigParse, op, "target %d: %w", i, err)
		}
		if x < 0 || x >= width || y < 0 || y >= height {
			return nil, errkind.Errorf(errkind.ConfigParse, op, "target %d: position (%d,%d) is outside the %dx%d board", i, x, y, width, height)
		}
		if !canvas.ValidColor(color) {
			return nil, errkind.Errorf(errkind.ConfigParse, op, "target %d: color %d out of range 0-%d", i, color, canvas.MaxColor)
		}
		entries = append(entries, Entry{Pos: canvas.Pos{X: x, Y: y}, Color: canvas.Color(color)})
	}
	return entries, nil
}

func decodeItem(item json.RawMessage) (x, y, color int, err error) {
	trimmed := bytes.TrimSpace(item)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj objectEntry
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return 0, 0, 0, err
		}
		if obj.X == nil || obj.Y == nil || obj.Color == nil {
			return 0, 0, 0, fmt.Errorf("object needs x, y and color")
		}
		return *obj.X, *obj.Y, *obj.Color, nil
	}

	var triple []int
	if err := json.Unmarshal(trimmed, &triple); err != nil {
		return 0, 0, 0, err
	}
	if len(triple) != 3 {
		return 0, 0, 0, fmt.Errorf("expected [x, y, color], got %d values", len(triple))
	}
	return triple[0], triple[1], triple[2], nil
}

// Shuffle randomises entry order in place, so a large image is painted
// scattered rather than column by column.
func Shuffle(entries []Entry, r *rand.Rand) {
	shuffle := rand.Shuffle
	if r != nil {
		shuffle = r.Shuffle
	}
	shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}
