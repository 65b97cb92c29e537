package unpickle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// TagKey is the reserved key marking a tagged object.
const TagKey = "py/object"

// ErrUnexpectedType is returned by the typed helpers when the decoded value
// does not have the requested Go type.
var ErrUnexpectedType = errors.New("unpickle: unexpected decoded type")

// Option configures a single decode call.
type Option func(*decoder)

// WithLogger routes unknown-tag diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMissHook calls hook with the tag every time an unknown tag is skipped.
func WithMissHook(hook func(tag string)) Option {
	return func(d *decoder) {
		d.onMiss = hook
	}
}

type decoder struct {
	reg    *Registry
	logger *slog.Logger
	onMiss func(tag string)
}

// Decode rebuilds typed values from a generic JSON value graph.
//
// Primitives are returned unchanged, arrays and untagged objects are copied
// with every element decoded, and tagged objects are replaced by the output of
// their handler. An unknown tag yields nil for that node only. Decode never
// mutates value or reg.
func Decode(value any, reg *Registry, opts ...Option) any {
	d := decoder{reg: reg, logger: slog.Default()}
	for _, opt := range opts {
		opt(&d)
	}
	return d.decode(value)
}

func (d *decoder) decode(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool, float64, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32:
		return v
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = d.decode(elem)
		}
		return out
	case map[string]any:
		return d.decodeObject(v)
	default:
		return nil
	}
}

func (d *decoder) decodeObject(obj map[string]any) any {
	rawTag, tagged := obj[TagKey]

	fields := make(map[string]any, len(obj))
	for key, value := range obj {
		if key == TagKey {
			continue
		}
		fields[key] = d.decode(value)
	}

	if !tagged {
		return fields
	}

	tag, _ := rawTag.(string)
	if h, ok := d.reg.Lookup(tag); ok {
		out, err := h(fields)
		if err != nil {
			d.logger.Warn("unpickle: handler reported an error", slog.String("tag", tag), slog.Any("error", err))
		}
		return out
	}

	d.logger.Warn("unpickle: no handler for tagged object", slog.Any("tag", rawTag))
	if d.onMiss != nil {
		d.onMiss(fmt.Sprint(rawTag))
	}
	return nil
}

// DecodeJSON parses data and decodes the result with reg.
func DecodeJSON(data []byte, reg *Registry, opts ...Option) (any, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unpickle: parse json: %w", err)
	}
	return Decode(raw, reg, opts...), nil
}

// As asserts a value produced by Decode or DecodeJSON to T. It never decodes
// again, so raw JSON values must go through Decode first.
func As[T any](decoded any) (T, error) {
	typed, ok := decoded.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedType, decoded, zero)
	}
	return typed, nil
}

// SliceOf asserts a decoded array to []T. Elements that decoded to nil
// (unknown tags, JSON null) are dropped.
func SliceOf[T any](decoded any) ([]T, error) {
	items, ok := decoded.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T, want array", ErrUnexpectedType, decoded)
	}
	result := make([]T, 0, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		typed, ok := item.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("%w: element %d is %T, want %T", ErrUnexpectedType, i, item, zero)
		}
		result = append(result, typed)
	}
	return result, nil
}

// Struct returns a handler that fills a *T from the decoded fields using T's
// json struct tags. Nested values that were already turned into typed values
// by their own handlers are carried over through their json encoding. A field
// that does not fit T is reported as an error alongside the partly filled
// value.
func Struct[T any]() HandlerFunc {
	return func(fields map[string]any) (any, error) {
		out := new(T)
		data, err := json.Marshal(fields)
		if err != nil {
			return out, fmt.Errorf("re-encode fields: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return out, fmt.Errorf("fill %T: %w", out, err)
		}
		return out, nil
	}
}
