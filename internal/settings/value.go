package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind is the type of a setting value.
type Kind string

const (
	KindBool Kind = "bool"
	KindInt  Kind = "int"
)

// Value is a setting value. Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	Bool bool
	Int  int
}

func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

func IntValue(i int) Value {
	return Value{Kind: KindInt, Int: i}
}

func (v Value) Interface() any {
	if v.Kind == KindBool {
		return v.Bool
	}
	return v.Int
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.Itoa(v.Int)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the value as a bare JSON boolean or number.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	default:
		return nil, fmt.Errorf("cannot encode setting value of kind %q", v.Kind)
	}
}

// UnmarshalJSON infers the kind from the document: booleans become KindBool
// and integral numbers KindInt. Anything else is rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || data[0] == '"' {
		return fmt.Errorf("setting value must be a boolean or an integer: %s", data)
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("setting value must be a boolean or an integer: %s", data)
	}

	if i, err := n.Int64(); err == nil {
		if i > math.MaxInt32 || i < math.MinInt32 {
			return fmt.Errorf("setting value out of range: %s", data)
		}
		*v = IntValue(int(i))
		return nil
	}

	// 20.0 is still an integer
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return fmt.Errorf("setting value must be a boolean or an integer: %s", data)
	}
	*v = IntValue(int(f))
	return nil
}
