package diagnostics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

var (
	marshalerType = reflect.TypeFor[json.Marshaler]()
	errorType     = reflect.TypeFor[error]()
)

// SafeMarshal encodes v as indented JSON. A pointer, map, or slice that
// re-enters itself along the current path is dropped at the cyclic edge
// instead of failing: object members are omitted and array slots become null.
// Values JSON cannot represent (channels, funcs) are dropped the same way.
func SafeMarshal(v any) ([]byte, error) {
	p := &pruner{onPath: make(map[visitKey]struct{})}
	tree, _ := p.walk(reflect.ValueOf(v))
	out, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal diagnostics: %w", err)
	}
	return out, nil
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

type pruner struct {
	onPath map[visitKey]struct{}
}

type member struct {
	name  string
	value any
}

// object keeps struct field order when re-encoded.
type object []member

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *pruner) enter(k visitKey) bool {
	if _, ok := p.onPath[k]; ok {
		return false
	}
	p.onPath[k] = struct{}{}
	return true
}

func (p *pruner) leave(k visitKey) {
	delete(p.onPath, k)
}

// walk converts v into a tree of JSON-encodable values. The bool result is
// false when v must be dropped.
func (p *pruner) walk(v reflect.Value) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		k := visitKey{ptr: v.Pointer(), typ: v.Type()}
		if !p.enter(k) {
			return nil, false
		}
		defer p.leave(k)
		if out, ok, handled := p.custom(v); handled {
			return out, ok
		}
		return p.walk(v.Elem())
	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return p.walk(v.Elem())
	}

	if out, ok, handled := p.custom(v); handled {
		return out, ok
	}

	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return nil, true
		}
		k := visitKey{ptr: v.Pointer(), typ: v.Type()}
		if !p.enter(k) {
			return nil, false
		}
		defer p.leave(k)
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val, ok := p.walk(iter.Value())
			if !ok {
				continue
			}
			out[mapKey(iter.Key())] = val
		}
		return out, true
	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return string(v.Bytes()), true
		}
		k := visitKey{ptr: v.Pointer(), typ: v.Type(), n: v.Len()}
		if !p.enter(k) {
			return nil, false
		}
		defer p.leave(k)
		return p.walkList(v), true
	case reflect.Array:
		return p.walkList(v), true
	case reflect.Struct:
		return p.walkStruct(v), true
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, false
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f), true
		}
		return f, true
	case reflect.String:
		return v.String(), true
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), true
	default:
		return nil, false
	}
}

// custom handles values that know how to encode themselves: json.Marshaler
// implementations and errors.
func (p *pruner) custom(v reflect.Value) (any, bool, bool) {
	if !v.CanInterface() {
		return nil, false, false
	}
	t := v.Type()
	if t.Implements(marshalerType) {
		raw, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprintf("%v", v.Interface()), true, true
		}
		return json.RawMessage(raw), true, true
	}
	if t.Implements(errorType) && v.Kind() != reflect.Struct {
		return v.Interface().(error).Error(), true, true
	}
	return nil, false, false
}

func (p *pruner) walkList(v reflect.Value) []any {
	out := make([]any, v.Len())
	for i := range out {
		val, ok := p.walk(v.Index(i))
		if ok {
			out[i] = val
		}
	}
	return out
}

func (p *pruner) walkStruct(v reflect.Value) object {
	t := v.Type()
	out := make(object, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(field)
		if skip {
			continue
		}
		fv := v.Field(i)
		if field.Anonymous && field.Tag.Get("json") == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				out = append(out, p.walkStruct(inner)...)
				continue
			}
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		val, ok := p.walk(fv)
		if !ok {
			continue
		}
		out = append(out, member{name: name, value: val})
	}
	return out
}

func jsonName(field reflect.StructField) (string, bool, bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = field.Name
	}
	return name, strings.Contains(opts, "omitempty"), false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		return fmt.Sprint(k.Interface())
	}
	return k.String()
}
