package derive

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind identifies what a Value carries.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNumber
	KindBool
	KindText
)

// sentinel is the wire form of an unknown numeric field.
const sentinel = -1

// Value is a single field value. The zero Value is Unknown.
type Value struct {
	kind Kind
	num  float64
	b    bool
	text string
}

// Unknown returns the absent value.
func Unknown() Value { return Value{} }

// Number wraps a float. The numeric sentinel and NaN map to Unknown.
func Number(f float64) Value {
	if f == sentinel || math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{kind: KindNumber, num: f}
}

// Int wraps an integer count.
func Int(n int) Value { return Number(float64(n)) }

// Bool wraps a flag.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Text wraps a string. Empty and sentinel strings are Unknown.
func Text(s string) Value {
	if isSentinelText(s) {
		return Value{}
	}
	return Value{kind: KindText, text: s}
}

func isSentinelText(s string) bool {
	t := strings.TrimSpace(s)
	return t == "" || t == "-1"
}

// FromAny converts a decoded payload value (JSON, YAML, form input).
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case bool:
		return Bool(x)
	case string:
		return Text(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int8:
		return Number(float64(x))
	case int16:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint8:
		return Number(float64(x))
	case uint16:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case json.Number:
		if n := Text(x.String()).ToNumber(); n.kind == KindNumber {
			return n
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}
		}
		return Number(f)
	default:
		return Value{}
	}
}

// Normalize is FromAny followed by numeric coercion of numeric-looking text.
// Free text stays text.
func Normalize(v any) Value {
	val := FromAny(v)
	if val.kind != KindText {
		return val
	}
	if n := val.ToNumber(); n.kind == KindNumber {
		return n
	}
	return val
}

// NormalizeField normalizes v for field. Text fields keep their literal form,
// so "001" stays "001" and a bare number becomes its decimal text.
func NormalizeField(field string, v any) Value {
	if !IsTextField(field) {
		return Normalize(v)
	}
	if n, ok := v.(json.Number); ok {
		return Text(n.String())
	}
	val := FromAny(v)
	if val.kind == KindNumber {
		return Text(val.String())
	}
	return val
}

// IsUnknown reports whether a raw payload value represents an absent field.
func IsUnknown(v any) bool {
	return FromAny(v).IsUnknown()
}

// IsUnknown reports whether v is absent.
func (v Value) IsUnknown() bool { return v.kind == KindUnknown }

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// Float returns the numeric payload.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// BoolValue returns the flag payload.
func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// ToNumber coerces text into a number. Commas are stripped; a "." makes the
// value real, otherwise it must parse as an integer. Unparseable text becomes
// Unknown. Numbers, flags and Unknown pass through unchanged.
func (v Value) ToNumber() Value {
	if v.kind != KindText {
		return v
	}
	s := strings.ReplaceAll(strings.TrimSpace(v.text), ",", "")
	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}
		}
		return Number(f)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}
	}
	return Number(float64(n))
}

// Interface returns a plain Go value; Unknown is nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1<<53 {
			return int64(v.num)
		}
		return v.num
	case KindBool:
		return v.b
	case KindText:
		return v.text
	default:
		return nil
	}
}

// Sanitized is Interface with Unknown rendered blank.
func (v Value) Sanitized() any {
	if v.kind == KindUnknown {
		return ""
	}
	return v.Interface()
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindText:
		return v.text
	default:
		return ""
	}
}

// MarshalJSON encodes Unknown as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts any scalar; null, -1, "-1" and "" decode to Unknown.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
