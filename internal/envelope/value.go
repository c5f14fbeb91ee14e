// Package envelope defines the in-process message representation that
// flows from an adapter through the routing engine, transformer, and
// forwarders: a dynamically-typed Value tree plus the Envelope that
// carries one alongside its protocol metadata.
package envelope

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the JSON-like shapes a parsed frame or a
// routing/transform intermediate can take. Only one of the typed fields is
// meaningful for a given Kind.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	list []Value
	m    map[string]Value
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(v bool) Value           { return Value{kind: KindBool, b: v} }
func Int(v int64) Value           { return Value{kind: KindInt, i: v} }
func Float(v float64) Value       { return Value{kind: KindFloat, f: v} }
func String(v string) Value       { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value        { return Value{kind: KindBytes, by: v} }
func List(v []Value) Value        { return Value{kind: KindList, list: v} }
func Map(v map[string]Value) Value {
	if v == nil {
		v = map[string]Value{}
	}
	return Value{kind: KindMap, m: v}
}

func NewMap() Value { return Map(nil) }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) Int() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool) {
	if v.kind == KindFloat {
		return v.f, true
	}
	if v.kind == KindInt {
		return float64(v.i), true
	}
	return 0, false
}
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return ""
	default:
		return fmt.Sprintf("<%s>", v.kind)
	}
}
func (v Value) Bytes() ([]byte, bool) { return v.by, v.kind == KindBytes }
func (v Value) List() ([]Value, bool) { return v.list, v.kind == KindList }
func (v Value) Map() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Clone deep-copies a Value tree.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.list))
		for i, e := range v.list {
			out[i] = e.Clone()
		}
		return List(out)
	case KindMap:
		out := make(map[string]Value, len(v.m))
		for k, e := range v.m {
			out[k] = e.Clone()
		}
		return Map(out)
	case KindBytes:
		out := make([]byte, len(v.by))
		copy(out, v.by)
		return Bytes(out)
	default:
		return v
	}
}

// Get resolves a dotted field path ("parsed_data.sensor.temperature")
// against a Value tree. Each segment indexes into a map; a segment that
// parses as a non-negative integer also indexes into a list. Returns
// (Null{}, false) if any segment can't be resolved.
func (v Value) Get(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch cur.kind {
		case KindMap:
			next, ok := cur.m[seg]
			if !ok {
				return Null(), false
			}
			cur = next
		case KindList:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.list) {
				return Null(), false
			}
			cur = cur.list[idx]
		default:
			return Null(), false
		}
	}
	return cur, true
}

// Set writes a value at a dotted field path, creating intermediate maps as
// needed. Set only supports map traversal (it does not grow lists); the
// receiver must itself be a KindMap value, and Set mutates it in place.
func (v Value) Set(path string, val Value) error {
	if v.kind != KindMap {
		return fmt.Errorf("envelope: Set requires a map value, got %s", v.kind)
	}
	segs := strings.Split(path, ".")
	cur := v.m
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = val
			return nil
		}
		next, ok := cur[seg]
		if !ok || next.kind != KindMap {
			next = NewMap()
			cur[seg] = next
		}
		cur = next.m
	}
	return nil
}

// Delete removes the value at a dotted field path. It is a no-op if the
// path doesn't resolve to an existing map entry.
func (v Value) Delete(path string) {
	if v.kind != KindMap {
		return
	}
	segs := strings.Split(path, ".")
	cur := v.m
	for i, seg := range segs {
		if i == len(segs)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg]
		if !ok || next.kind != KindMap {
			return
		}
		cur = next.m
	}
}

// ToInterface converts a Value tree into plain Go interface{} values
// (map[string]interface{}, []interface{}, string, int64, float64, bool,
// []byte, nil), suitable for JSON marshaling or for gjson/sjson-based path
// access.
func (v Value) ToInterface() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.by
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToInterface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToInterface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface builds a Value tree from the result of json.Unmarshal into
// interface{} (map[string]interface{}, []interface{}, float64, string,
// bool, nil).
func FromInterface(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Float(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromInterface(e)
		}
		return List(out)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromInterface(e)
		}
		return Map(out)
	default:
		return Null()
	}
}
