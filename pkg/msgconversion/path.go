package msgconversion

import (
	"strconv"
	"strings"
)

// Segment is one step of a property path: a property name or an array index
type Segment struct {
	Name  string
	Index int
	IsIdx bool
}

func (s Segment) String() string {
	if s.IsIdx {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Name
}

// ParsePath splits a path such as "a.b[0].c" into segments
func ParsePath(path string) ([]Segment, error) {
	if path == "" {
		return nil, invalid("empty path")
	}

	var segs []Segment
	for _, part := range strings.Split(path, ".") {
		name := part
		var indexes []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			name = part[:open]
			rest := part[open:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, invalid("path %q: unexpected %q", path, rest)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, invalid("path %q: unclosed index", path)
				}
				idx, err := strconv.Atoi(rest[1:end])
				if err != nil || idx < 0 {
					return nil, invalid("path %q: bad index %q", path, rest[1:end])
				}
				indexes = append(indexes, idx)
				rest = rest[end+1:]
			}
		}
		if name == "" {
			return nil, invalid("path %q: empty segment", path)
		}
		segs = append(segs, Segment{Name: name})
		for _, idx := range indexes {
			segs = append(segs, Segment{Index: idx, IsIdx: true})
		}
	}
	return segs, nil
}
