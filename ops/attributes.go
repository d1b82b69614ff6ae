package ops

import (
	"fmt"
	"maps"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// Attributes are the static parameters of an operator application, by name.
//
// Accepted value types: integers (int, int32, int64), floats (float32, float64), bool, string,
// dtypes.DType and lists of integers or floats.
type Attributes map[string]any

// Has returns whether the attribute is set.
func (a Attributes) Has(name string) bool {
	_, found := a[name]
	return found
}

// Clone returns a shallow copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// get returns the given attribute. If required is true, it panics with an *ArityError if the attribute
// is missing.
func (a Attributes) get(name string, required bool) (any, bool) {
	v, found := a[name]
	if !found && required {
		panic(&ArityError{What: fmt.Sprintf("attribute %q", name), Want: "1", Got: 0, Extra: "missing required attribute"})
	}
	return v, found
}

func wrongAttrType(name, want string, v any) {
	exceptions.Panicf("attribute %q: expected %s, got %T (%v)", name, want, v, v)
}

func toInt(name string, v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case int32:
		return int(x)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	wrongAttrType(name, "an integer", v)
	return 0
}

// Int gets the attribute as an integer.
// It panics if the attribute is not set or if it is of the wrong type.
func (a Attributes) Int(name string) int {
	v, _ := a.get(name, true)
	return toInt(name, v)
}

// IntOr gets an integer attribute if present or returns defaultValue.
// It panics if the attribute is present but of the wrong type.
func (a Attributes) IntOr(name string, defaultValue int) int {
	v, found := a.get(name, false)
	if !found {
		return defaultValue
	}
	return toInt(name, v)
}

// BoolOr gets a boolean attribute (either a bool or an integer 0 or 1) if present or returns defaultValue.
func (a Attributes) BoolOr(name string, defaultValue bool) bool {
	v, found := a.get(name, false)
	if !found {
		return defaultValue
	}
	return toInt(name, v) != 0
}

func toInts(name string, v any) []int {
	switch x := v.(type) {
	case []int:
		return append([]int(nil), x...)
	case []int64:
		ints := make([]int, len(x))
		for ii, e := range x {
			ints[ii] = int(e)
		}
		return ints
	case []int32:
		ints := make([]int, len(x))
		for ii, e := range x {
			ints[ii] = int(e)
		}
		return ints
	case int, int64, int32:
		return []int{toInt(name, x)}
	}
	wrongAttrType(name, "a list of integers", v)
	return nil
}

// Ints gets a list of integers attribute. A single integer is accepted as a list of one element.
// It panics if the attribute is not present or if it is of the wrong type.
func (a Attributes) Ints(name string) []int {
	v, _ := a.get(name, true)
	return toInts(name, v)
}

// IntsOr gets a list of integers attribute if present or returns defaultValues.
func (a Attributes) IntsOr(name string, defaultValues []int) []int {
	v, found := a.get(name, false)
	if !found {
		return defaultValues
	}
	return toInts(name, v)
}

func toFloat(name string, v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	wrongAttrType(name, "a float", v)
	return 0
}

// FloatOr gets a float attribute if present or returns defaultValue.
func (a Attributes) FloatOr(name string, defaultValue float64) float64 {
	v, found := a.get(name, false)
	if !found {
		return defaultValue
	}
	return toFloat(name, v)
}

// FloatsOr gets a list of floats attribute if present or returns defaultValues.
func (a Attributes) FloatsOr(name string, defaultValues []float64) []float64 {
	v, found := a.get(name, false)
	if !found {
		return defaultValues
	}
	switch x := v.(type) {
	case []float64:
		return append([]float64(nil), x...)
	case []float32:
		floats := make([]float64, len(x))
		for ii, e := range x {
			floats[ii] = float64(e)
		}
		return floats
	}
	wrongAttrType(name, "a list of floats", v)
	return nil
}

// String gets a string attribute.
// It panics if the attribute is not present or if it is of the wrong type.
func (a Attributes) String(name string) string {
	v, _ := a.get(name, true)
	s, ok := v.(string)
	if !ok {
		wrongAttrType(name, "a string", v)
	}
	return s
}

// StringOr gets a string attribute if present or returns defaultValue.
func (a Attributes) StringOr(name, defaultValue string) string {
	if !a.Has(name) {
		return defaultValue
	}
	return a.String(name)
}

// DTypeOr gets a dtype attribute if present or returns defaultValue.
// Integers are interpreted as dtypes.DType values.
func (a Attributes) DTypeOr(name string, defaultValue dtypes.DType) dtypes.DType {
	v, found := a.get(name, false)
	if !found {
		return defaultValue
	}
	if dtype, ok := v.(dtypes.DType); ok {
		return dtype
	}
	return dtypes.DType(toInt(name, v))
}

// DType gets a required dtype attribute.
func (a Attributes) DType(name string) dtypes.DType {
	a.get(name, true)
	return a.DTypeOr(name, dtypes.InvalidDType)
}
