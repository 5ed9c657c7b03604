// Package recommend turns model output into validated recommendation rows.
// It holds the two-stage output parser, the deterministic slot backfill,
// and the per-CAM worker that drives the whole pipeline.
package recommend

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/normalize"
)

// ErrUnparsable reports that neither parser stage could extract a
// recommendation line from the model output.
var ErrUnparsable = errors.New("no recommendation line in model output")

// Parse extracts the 24 product slots from raw model output. The strict
// stage scans line by line for an exact vehicle/size echo followed by
// product tokens; the forgiving stage falls back to harvesting product IDs
// from anywhere in the text, provided the vehicle and size are at least
// mentioned. Slots come back exactly as extracted: deduplication and
// validity repair are Backfill's job.
func Parse(raw, vehicle, size string) ([]string, error) {
	if slots, ok := parseStrict(raw, vehicle, size); ok {
		return slots, nil
	}
	if slots, ok := parseForgiving(raw, vehicle, size); ok {
		return slots, nil
	}
	return nil, fmt.Errorf("%w: vehicle=%q size=%q", ErrUnparsable, vehicle, size)
}

// parseStrict looks for a line of the form "<vehicle> <size> <ids...>".
// The vehicle/size boundary is unknown, so every split with a size of one
// to three tokens is tried; the leftmost split that matches under
// normalize.Compare and whose first four product tokens are digit strings
// or placeholders wins.
func parseStrict(raw, vehicle, size string) ([]string, bool) {
	normVehicle := normalize.Compare(vehicle)
	normSize := normalize.Compare(size)

	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		tokens := strings.Fields(line)
		n := len(tokens)
		if n < 6 {
			continue
		}

		for vEnd := 1; vEnd <= n-5; vEnd++ {
			if normalize.Compare(strings.Join(tokens[:vEnd], " ")) != normVehicle {
				continue
			}
			for sLen := 1; sLen <= 3; sLen++ {
				after := vEnd + sLen
				if normalize.Compare(strings.Join(tokens[vEnd:after], " ")) != normSize {
					continue
				}
				slots := padSlots(tokens[after:])
				if !leadingSlotsWellFormed(slots) {
					continue
				}
				return slots, true
			}
		}
	}
	return nil, false
}

// Characters that can glue product IDs to prose: everything except
// letters, digits, whitespace and the placeholder hyphen becomes a space.
var nonIDCharRE = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

// parseForgiving salvages output that broke the single-line contract. The
// vehicle and size must still be mentioned somewhere; product IDs are then
// collected in order of appearance, with placeholders honored once at
// least one real ID has been seen. Fewer than four IDs is a lost cause.
func parseForgiving(raw, vehicle, size string) ([]string, bool) {
	normText := normalize.Compare(raw)
	if !strings.Contains(normText, normalize.Compare(vehicle)) ||
		!strings.Contains(normText, normalize.Compare(size)) {
		return nil, false
	}

	var ids []string
	for _, tok := range strings.Fields(nonIDCharRE.ReplaceAllString(raw, " ")) {
		switch {
		case normalize.IsProductID(tok):
			ids = append(ids, tok)
		case tok == domain.Placeholder && len(ids) > 0:
			ids = append(ids, tok)
		}
	}
	if len(ids) < domain.HotboxCount {
		return nil, false
	}
	return padSlots(ids), true
}

// padSlots right-pads (or truncates) the product tokens to the 24-slot
// layout, filling gaps with the placeholder.
func padSlots(products []string) []string {
	slots := make([]string, domain.SlotCount)
	for i := range slots {
		if i < len(products) {
			slots[i] = products[i]
		} else {
			slots[i] = domain.Placeholder
		}
	}
	return slots
}

// leadingSlotsWellFormed accepts the split only when the four hotbox
// positions hold digit strings or placeholders. Garbled tails are fine;
// backfill repairs those.
func leadingSlotsWellFormed(slots []string) bool {
	for _, s := range slots[:domain.HotboxCount] {
		if s != domain.Placeholder && !digitString(s) {
			return false
		}
	}
	return true
}

func digitString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
