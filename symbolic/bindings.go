package symbolic

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Bindings maps Param names to concrete sizes.
// Used to check concrete shapes against symbolic ones, and to resolve symbolic shapes.
type Bindings map[string]int

// Key returns a canonical representation "name1=val1,name2=val2", sorted by name.
func (b Bindings) Key() string {
	names := slices.Sorted(maps.Keys(b))
	parts := make([]string, len(names))
	for ii, name := range names {
		parts[ii] = fmt.Sprintf("%s=%d", name, b[name])
	}
	return strings.Join(parts, ",")
}

// Merge adds the bindings of other into b.
// It returns an error if the same name is bound to different values.
func (b Bindings) Merge(other Bindings) error {
	for name, v := range other {
		if existing, found := b[name]; found && existing != v {
			return errors.Errorf("conflicting values for axis %q: %d vs %d", name, existing, v)
		}
		b[name] = v
	}
	return nil
}

// Bind matches a concrete shape against the symbolic shape s, recording the values of its Params in
// bindings (which must not be nil).
//
// It returns a *RankError if the ranks differ, a *ShapeError if a concrete dimension doesn't match, and
// an error if a Param is bound to two different values.
func (s Shape) Bind(concrete []int, bindings Bindings) error {
	if !s.rankKnown {
		return nil
	}
	if len(concrete) != len(s.dims) {
		return NewRankError(len(s.dims), len(concrete), "concrete shape %v doesn't match %s", concrete, s)
	}
	for axis, d := range s.dims {
		size := concrete[axis]
		switch d.kind {
		case KindValue:
			if d.value != size {
				return NewShapeError(axis, d, Value(size), "concrete dimension doesn't match")
			}
		case KindParam:
			if existing, found := bindings[d.name]; found && existing != size {
				return errors.Errorf("axis %q has conflicting values at axis %d: %d vs %d", d.name, axis, existing, size)
			}
			bindings[d.name] = size
		}
	}
	return nil
}

// Resolve returns a copy of the shape with the Params found in bindings replaced by their values.
func (s Shape) Resolve(bindings Bindings) Shape {
	resolved := s.Clone()
	for axis, d := range resolved.dims {
		if d.IsParam() {
			if v, found := bindings[d.name]; found {
				resolved.dims[axis] = Value(v)
			}
		}
	}
	return resolved
}

// Params returns the names of the Params used in the shape, in order of first appearance.
func (s Shape) Params() []string {
	var names []string
	for _, d := range s.dims {
		if d.IsParam() && !slices.Contains(names, d.name) {
			names = append(names, d.name)
		}
	}
	return names
}
