// Package changes computes minimal update patches. Given the current state of
// a record and a sparse update, GetChangedFields returns only the fields whose
// values differ, after optional per-field normalization, custom equality and
// multi-field expansion.
package changes

import (
	"reflect"
	"sort"
	"time"
)

// Record is a field name to value map. A nil value means "set to empty".
type Record map[string]any

// UnsetValue is the type of Unset.
type UnsetValue struct{}

// Unset marks a field as not provided. It is distinct from nil, which clears
// the field.
var Unset = UnsetValue{}

func isUnset(v any) bool {
	_, ok := v.(UnsetValue)
	return ok
}

// FieldComparator customizes how one field is compared and written.
type FieldComparator struct {
	// Equals replaces the default equality for this field.
	Equals func(current, updated any) bool
	// Transform normalizes the updated value before it is compared. Returning
	// Unset drops the field. Ignored when Map is set.
	Transform func(value any) any
	// Map expands a changed field into a set of field writes, which may
	// include sibling fields.
	Map func(value any, current, update Record) Record
	// DependsOn lists fields whose change also triggers Map, even when this
	// field is unchanged. They are compared with default equality.
	DependsOn []string
}

// GetChangedFields returns the patch that turns current into update for the
// listed fields. When fieldsToCheck is nil every key of update is checked.
// Fields that are Unset or missing from update, or unknown to current, are
// skipped.
func GetChangedFields(current, update Record, comparators map[string]FieldComparator, fieldsToCheck []string) Record {
	changes := Record{}

	keys := fieldsToCheck
	if keys == nil {
		keys = make([]string, 0, len(update))
		for key := range update {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}

	for _, key := range keys {
		newValue, provided := update[key]
		if !provided || isUnset(newValue) {
			continue
		}
		currentValue, known := current[key]
		if !known {
			continue
		}

		comparator, hasComparator := comparators[key]

		if hasComparator && comparator.Map != nil {
			changed := !compare(currentValue, newValue, comparator.Equals)
			if !changed {
				changed = dependentChanged(current, update, comparator.DependsOn)
			}
			if changed {
				for field, value := range comparator.Map(newValue, current, update) {
					changes[field] = value
				}
			}
			continue
		}

		value := newValue
		if hasComparator && comparator.Transform != nil {
			value = comparator.Transform(newValue)
			if isUnset(value) {
				continue
			}
		}

		if !compare(currentValue, value, comparator.Equals) {
			changes[key] = value
		}
	}

	return changes
}

func dependentChanged(current, update Record, dependsOn []string) bool {
	for _, dep := range dependsOn {
		newValue, provided := update[dep]
		if !provided || isUnset(newValue) {
			continue
		}
		currentValue, known := current[dep]
		if !known {
			continue
		}
		if !Equal(currentValue, newValue) {
			return true
		}
	}
	return false
}

func compare(current, updated any, equals func(current, updated any) bool) bool {
	if equals != nil {
		return equals(current, updated)
	}
	return Equal(current, updated)
}

// Equal is the default field equality. Pointers compare by the value they
// point to, times compare as instants, numbers compare by value whatever their
// Go type, and nil equals Unset.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)

	if (a == nil && isUnset(b)) || (isUnset(a) && b == nil) {
		return true
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}

	if equal, ok := numericEqual(a, b); ok {
		return equal
	}
	return reflect.DeepEqual(a, b)
}

// normalize dereferences pointers so *string and string compare alike. Nil
// pointers become an untyped nil.
// numericEqual compares two numbers of any integer or float type. ok is false
// unless both are numbers.
func numericEqual(a, b any) (equal, ok bool) {
	if a == nil || b == nil {
		return false, false
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !isNumber(ra) || !isNumber(rb) {
		return false, false
	}

	switch {
	case ra.CanInt() && rb.CanInt():
		return ra.Int() == rb.Int(), true
	case ra.CanUint() && rb.CanUint():
		return ra.Uint() == rb.Uint(), true
	case ra.CanInt() && rb.CanUint():
		return ra.Int() >= 0 && uint64(ra.Int()) == rb.Uint(), true
	case ra.CanUint() && rb.CanInt():
		return rb.Int() >= 0 && ra.Uint() == uint64(rb.Int()), true
	}
	return toFloat(ra) == toFloat(rb), true
}

func isNumber(v reflect.Value) bool {
	return v.CanInt() || v.CanUint() || v.CanFloat()
}

func toFloat(v reflect.Value) float64 {
	switch {
	case v.CanInt():
		return float64(v.Int())
	case v.CanUint():
		return float64(v.Uint())
	}
	return v.Float()
}

func normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

// DateEquals compares two optional times by instant. Absent values (nil or
// Unset) are equal to each other and differ from any time.
func DateEquals(a, b any) bool {
	a, b = normalize(a), normalize(b)

	absentA := a == nil || isUnset(a)
	absentB := b == nil || isUnset(b)
	if absentA || absentB {
		return absentA && absentB
	}

	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if !okA || !okB {
		return false
	}
	return ta.Equal(tb)
}

// EmptyToNull turns an empty string into nil. Unset passes through.
func EmptyToNull(value any) any {
	if isUnset(value) {
		return value
	}
	if s, ok := normalize(value).(string); ok && s == "" {
		return nil
	}
	return value
}
