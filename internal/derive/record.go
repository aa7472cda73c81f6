package derive

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Layer is the provenance of a record value. Higher layers win.
type Layer uint8

const (
	LayerDefault Layer = iota + 1
	LayerBase
	LayerSubStep
	LayerManual
)

func (l Layer) String() string {
	switch l {
	case LayerDefault:
		return "default"
	case LayerBase:
		return "base"
	case LayerSubStep:
		return "substep"
	case LayerManual:
		return "manual"
	default:
		return "none"
	}
}

func (l Layer) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Layer) UnmarshalText(b []byte) error {
	switch string(b) {
	case "default":
		*l = LayerDefault
	case "base":
		*l = LayerBase
	case "substep":
		*l = LayerSubStep
	case "manual":
		*l = LayerManual
	default:
		return fmt.Errorf("unknown layer %q", string(b))
	}
	return nil
}

// Getter reads a single field.
type Getter interface {
	Get(field string) Value
}

// Patch is a set of field values to overlay on a record.
type Patch map[string]Value

// Get returns the field value, Unknown when absent.
func (p Patch) Get(field string) Value { return p[field] }

// Clone returns a shallow copy.
func (p Patch) Clone() Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge overwrites p with every key of other.
func (p Patch) Merge(other Patch) {
	for k, v := range other {
		p[k] = v
	}
}

// MergeExtracted returns base overlaid with extracted. Extraction output
// always wins on shared keys.
func MergeExtracted(base, extracted Patch) Patch {
	out := base.Clone()
	out.Merge(extracted)
	return out
}

// Record is the accumulated field set of a study. It is owned by one job at a
// time and is not safe for concurrent use.
type Record struct {
	values   map[string]Value
	layers   map[string]Layer
	baseDone bool
}

func NewRecord() *Record {
	return &Record{
		values: map[string]Value{},
		layers: map[string]Layer{},
	}
}

// Apply overwrites keys present in patch unless a key is held by a higher
// layer. It returns the keys that changed.
func (r *Record) Apply(patch Patch, layer Layer) []string {
	r.ensure()
	var changed []string
	for k, v := range patch {
		if cur, ok := r.layers[k]; ok && cur > layer {
			continue
		}
		old, had := r.values[k]
		r.values[k] = v
		r.layers[k] = layer
		if !had || old != v {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// ApplyManual validates edits against the editable allow-list and applies
// them at the manual layer. Nothing is applied when any key is rejected.
func (r *Record) ApplyManual(edits map[string]any) (Patch, error) {
	patch := make(Patch, len(edits))
	var rejected []string
	for k, raw := range edits {
		if !IsEditable(k) {
			rejected = append(rejected, k)
			continue
		}
		patch[k] = NormalizeField(k, raw)
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return nil, &FieldNotEditableError{Fields: rejected}
	}
	r.Apply(patch, LayerManual)
	return patch, nil
}

// Get returns the field value, Unknown when absent.
func (r *Record) Get(field string) Value {
	if r == nil {
		return Value{}
	}
	return r.values[field]
}

func (r *Record) Has(field string) bool {
	if r == nil {
		return false
	}
	_, ok := r.values[field]
	return ok
}

// LayerOf returns the layer holding field, zero when absent.
func (r *Record) LayerOf(field string) Layer {
	if r == nil {
		return 0
	}
	return r.layers[field]
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.values)
}

// Keys lists field names in sorted order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Record) BaseDone() bool { return r != nil && r.baseDone }

func (r *Record) MarkBaseDone() { r.baseDone = true }

// Reset drops every value and provenance entry.
func (r *Record) Reset() {
	r.values = map[string]Value{}
	r.layers = map[string]Layer{}
	r.baseDone = false
}

func (r *Record) Clone() *Record {
	out := NewRecord()
	if r == nil {
		return out
	}
	for k, v := range r.values {
		out.values[k] = v
	}
	for k, l := range r.layers {
		out.layers[k] = l
	}
	out.baseDone = r.baseDone
	return out
}

// Snapshot returns a copy of the values.
func (r *Record) Snapshot() Patch {
	out := Patch{}
	if r == nil {
		return out
	}
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Held returns the values held at layer floor or above.
func (r *Record) Held(floor Layer) Patch {
	out := Patch{}
	if r == nil {
		return out
	}
	for k, l := range r.layers {
		if l >= floor {
			out[k] = r.values[k]
		}
	}
	return out
}

// Sanitized renders the record for templates and clients: Unknown becomes "".
func (r *Record) Sanitized() map[string]any {
	out := map[string]any{}
	if r == nil {
		return out
	}
	for k, v := range r.values {
		out[k] = v.Sanitized()
	}
	return out
}

func (r *Record) Equal(other *Record) bool {
	if r.Len() != other.Len() || r.BaseDone() != other.BaseDone() {
		return false
	}
	if r == nil || other == nil {
		return r.Len() == 0 && other.Len() == 0
	}
	for k, v := range r.values {
		if other.values[k] != v || other.layers[k] != r.layers[k] {
			return false
		}
	}
	return true
}

func (r *Record) ensure() {
	if r.values == nil {
		r.values = map[string]Value{}
	}
	if r.layers == nil {
		r.layers = map[string]Layer{}
	}
}

type recordJSON struct {
	Values   map[string]Value `json:"values"`
	Layers   map[string]Layer `json:"layers"`
	BaseDone bool             `json:"baseDone"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return json.Marshal(recordJSON{Values: r.values, Layers: r.layers, BaseDone: r.baseDone})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Reset()
	for k, v := range raw.Values {
		r.values[k] = v
		l := raw.Layers[k]
		if l == 0 {
			l = LayerBase
		}
		r.layers[k] = l
	}
	r.baseDone = raw.BaseDone
	return nil
}
