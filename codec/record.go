package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"cogentcore.org/core/ordmap"
)

// A Record is a string-keyed map that keeps its keys in insertion order, on
// the wire and when printed. Integer values are stored as int64, or float64
// beyond its range, floating point values as float64, maps with string keys
// as nested records and slices as []any. A Record built from such values
// compares equal to its decoded copy. The zero value is an empty record.
type Record struct {
	m *ordmap.Map[string, any]
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{m: ordmap.New[string, any]()}
}

func (r *Record) init() {
	if r.m == nil {
		r.m = ordmap.New[string, any]()
	}
}

// Set sets the value of a key. A new key goes after the existing ones.
func (r *Record) Set(key string, v any) *Record {
	r.init()
	r.m.Add(key, normalize(v))

	return r
}

// Get returns the value of a key.
func (r *Record) Get(key string) (any, bool) {
	if r.m == nil {
		return nil, false
	}

	return r.m.ValueByKeyTry(key)
}

// Len returns the number of keys.
func (r *Record) Len() int {
	if r.m == nil {
		return 0
	}

	return r.m.Len()
}

// Keys returns the keys in order.
func (r *Record) Keys() []string {
	if r.m == nil {
		return nil
	}

	return r.m.Keys()
}

// Equal tells if two records have the same keys in the same order with equal
// values.
func (r *Record) Equal(o *Record) bool {
	if o == nil {
		return r.Len() == 0
	}

	if r.Len() != o.Len() {
		return false
	}

	for i, key := range r.Keys() {
		if o.m.KeyByIndex(i) != key {
			return false
		}

		if !reflect.DeepEqual(r.m.ValueByIndex(i), o.m.ValueByIndex(i)) {
			return false
		}
	}

	return true
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint:
		return normalizeUint(uint64(n))
	case uint64:
		return normalizeUint(n)
	case uintptr:
		return normalizeUint(uint64(n))
	case float32:
		return float64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}

		f, _ := n.Float64()

		return f
	case map[string]any:
		if n == nil {
			return nil
		}

		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}

		slices.Sort(keys)

		rec := NewRecord()
		for _, k := range keys {
			rec.Set(k, n[k])
		}

		return rec
	case []any:
		if n == nil {
			return nil
		}

		s := make([]any, len(n))
		for i, e := range n {
			s[i] = normalize(e)
		}

		return s
	case *Record, []byte:
		return v
	default:
		return normalizeReflect(v)
	}
}

// normalizeUint keeps a value as an integer while it fits into int64, as the
// decoder reads larger ones as floats.
func normalizeUint(n uint64) any {
	if n > math.MaxInt64 {
		return float64(n)
	}

	return int64(n)
}

// normalizeReflect turns typed maps with string keys into records and typed
// slices and arrays into []any.
func normalizeReflect(v any) any {
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}

		if rv.IsNil() {
			return nil
		}

		keys := rv.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(a.String(), b.String())
		})

		rec := NewRecord()
		for _, k := range keys {
			rec.Set(k.String(), rv.MapIndex(k).Interface())
		}

		return rec
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}

		s := make([]any, rv.Len())
		for i := range s {
			s[i] = normalize(rv.Index(i).Interface())
		}

		return s
	default:
		return v
	}
}

// MarshalJSON writes the record as a JSON object with keys in order.
func (r *Record) MarshalJSON() ([]byte, error) {
	buf := bytes.NewBufferString("{")

	for i, key := range r.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}

		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}

		v, err := json.Marshal(r.m.ValueByIndex(i))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the order of its keys. Nested
// objects become records.
func (r *Record) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	rec, err := decodeObject(decoder)
	if err != nil {
		return err
	}

	*r = *rec

	return nil
}

func decodeObject(decoder *json.Decoder) (*Record, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}

	if token != json.Delim('{') {
		return nil, fmt.Errorf("expect an object, got %v", token)
	}

	rec := NewRecord()
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("expect a key, got %v", keyToken)
		}

		v, err := decodeValue(decoder)
		if err != nil {
			return nil, err
		}

		rec.Set(key, v)
	}

	_, err = decoder.Token()
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func decodeValue(decoder *json.Decoder) (any, error) {
	var raw json.RawMessage

	err := decoder.Decode(&raw)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty value")
	}

	switch trimmed[0] {
	case '{':
		sub := json.NewDecoder(bytes.NewReader(trimmed))
		sub.UseNumber()

		return decodeObject(sub)
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, err
		}

		s := make([]any, len(elems))
		for i, elem := range elems {
			sub := json.NewDecoder(bytes.NewReader(elem))
			sub.UseNumber()

			v, err := decodeValue(sub)
			if err != nil {
				return nil, err
			}

			s[i] = v
		}

		return s, nil
	default:
		sub := json.NewDecoder(bytes.NewReader(trimmed))
		sub.UseNumber()

		var v any
		if err := sub.Decode(&v); err != nil {
			return nil, err
		}

		return normalize(v), nil
	}
}

// String prints the record as {'a': 7, 'b': 3.14}.
func (r *Record) String() string {
	var sb strings.Builder

	sb.WriteByte('{')

	for i, key := range r.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}

		sb.WriteString(quote(key))
		sb.WriteString(": ")
		sb.WriteString(formatValue(r.m.ValueByIndex(i)))
	}

	sb.WriteByte('}')

	return sb.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return quote(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	case *Record:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}

		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}

	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}

	return s
}
