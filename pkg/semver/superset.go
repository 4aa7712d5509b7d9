package semver

import (
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// bound is one end of a version interval. A nil version means unbounded.
type bound struct {
	v         *mm.Version
	inclusive bool
}

type interval struct {
	lo, hi bound
}

// IsSupersetOf reports whether every version accepted by other is also
// accepted by r.
//
// Only plain comparator forms (*, =, ^, ~, >, >=, <, <=) over full X.Y.Z
// versions and their conjunctions are understood. Anything else is treated as
// a superset only of an identical requirement string, so a false answer may
// be wrong but a true answer never is.
func (r Requirement) IsSupersetOf(other Requirement) bool {
	if r.String() == other.String() {
		return true
	}
	a, ok := toInterval(r.String())
	if !ok {
		return false
	}
	b, ok := toInterval(other.String())
	if !ok {
		return false
	}
	if b.empty() {
		return true
	}
	return lowerCovers(a.lo, b.lo) && upperCovers(a.hi, b.hi)
}

func toInterval(raw string) (interval, bool) {
	tokens := tokenize(raw)
	out := interval{}
	for _, tok := range tokens {
		iv, ok := tokenInterval(tok)
		if !ok {
			return interval{}, false
		}
		out = intersect(out, iv)
	}
	return out, true
}

// tokenize splits a conjunction into operator+version tokens, joining a bare
// operator with the version that follows it (">= 1.2.3").
func tokenize(raw string) []string {
	fields := strings.Fields(strings.ReplaceAll(raw, ",", " "))
	var tokens []string
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if isOperator(f) && i+1 < len(fields) {
			f += fields[i+1]
			i++
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func isOperator(s string) bool {
	switch s {
	case "=", "^", "~", "~>", ">", ">=", "<", "<=", "!=":
		return true
	}
	return false
}

func tokenInterval(tok string) (interval, bool) {
	switch tok {
	case "*", "x", "X":
		return interval{}, true
	}
	if strings.Contains(tok, "||") {
		return interval{}, false
	}

	op := ""
	for _, candidate := range []string{">=", "<=", "!=", "~>", "^", "~", ">", "<", "="} {
		if strings.HasPrefix(tok, candidate) {
			op = candidate
			break
		}
	}
	v, ok := fullVersion(strings.TrimPrefix(tok, op))
	if !ok {
		return interval{}, false
	}

	switch op {
	case "", "=":
		return interval{lo: bound{v, true}, hi: bound{v, true}}, true
	case ">=":
		return interval{lo: bound{v, true}}, true
	case ">":
		return interval{lo: bound{v, false}}, true
	case "<=":
		return interval{hi: bound{v, true}}, true
	case "<":
		return interval{hi: bound{v, false}}, true
	case "^":
		var next mm.Version
		switch {
		case v.Major() > 0:
			next = v.IncMajor()
		case v.Minor() > 0:
			next = v.IncMinor()
		default:
			next = v.IncPatch()
		}
		return interval{lo: bound{v, true}, hi: bound{&next, false}}, true
	case "~", "~>":
		next := v.IncMinor()
		return interval{lo: bound{v, true}, hi: bound{&next, false}}, true
	}
	return interval{}, false
}

// fullVersion accepts only X.Y.Z without pre-release data; partial and
// pre-release forms have range semantics we do not model.
func fullVersion(raw string) (*mm.Version, bool) {
	raw = strings.TrimPrefix(raw, "v")
	if strings.Count(raw, ".") != 2 || strings.ContainsAny(raw, "xX*") {
		return nil, false
	}
	v, err := mm.StrictNewVersion(raw)
	if err != nil || v.Prerelease() != "" {
		return nil, false
	}
	return v, true
}

func intersect(a, b interval) interval {
	out := a
	if lowerCovers(out.lo, b.lo) {
		out.lo = b.lo
	}
	if upperCovers(out.hi, b.hi) {
		out.hi = b.hi
	}
	return out
}

func (iv interval) empty() bool {
	if iv.lo.v == nil || iv.hi.v == nil {
		return false
	}
	c := iv.lo.v.Compare(iv.hi.v)
	if c > 0 {
		return true
	}
	return c == 0 && !(iv.lo.inclusive && iv.hi.inclusive)
}

// lowerCovers reports whether lower bound a admits everything b admits.
func lowerCovers(a, b bound) bool {
	if a.v == nil {
		return true
	}
	if b.v == nil {
		return false
	}
	switch c := a.v.Compare(b.v); {
	case c < 0:
		return true
	case c > 0:
		return false
	}
	return a.inclusive || !b.inclusive
}

// upperCovers reports whether upper bound a admits everything b admits.
func upperCovers(a, b bound) bool {
	if a.v == nil {
		return true
	}
	if b.v == nil {
		return false
	}
	switch c := a.v.Compare(b.v); {
	case c > 0:
		return true
	case c < 0:
		return false
	}
	return a.inclusive || !b.inclusive
}
