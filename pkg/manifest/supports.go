package manifest

import (
	"errors"
	"fmt"
)

// Incompatible is the score of a candidate that cannot run on the target
const Incompatible = -1

// ErrUnsupportedPlatform is returned when no supports entry matches the target
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// CompatibleScore scores a candidate's supports list against a target.
//
// Every field the target declares must be matched by some entry: an entry
// field equal to the target scores 1, an absent entry field matches without
// scoring, a different one rules the entry out. The best entry wins. An empty
// candidate list runs anywhere and scores 0.
func CompatibleScore(candidate []Supports, target Supports) int {
	if len(candidate) == 0 {
		return 0
	}

	best := Incompatible
	for _, entry := range candidate {
		score, ok := entryScore(entry, target)
		if ok && score > best {
			best = score
		}
	}
	return best
}

func entryScore(entry, target Supports) (int, bool) {
	score := 0
	if target.OS != "" && entry.OS != "" {
		if entry.OS != target.OS {
			return 0, false
		}
		score++
	}
	if target.Arch != "" && entry.Arch != "" {
		if entry.Arch != target.Arch {
			return 0, false
		}
		score++
	}
	return score, true
}

// CheckSupports returns the score or ErrUnsupportedPlatform
func CheckSupports(candidate []Supports, target Supports) (int, error) {
	score := CompatibleScore(candidate, target)
	if score == Incompatible {
		return score, fmt.Errorf("%w: %s not in %v", ErrUnsupportedPlatform, target, candidate)
	}
	return score, nil
}
