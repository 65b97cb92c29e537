package unpickle

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
)

type foo struct {
	fields map[string]any
}

type bar struct {
	C float64 `json:"c"`
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register("pkg.Foo", func(fields map[string]any) (any, error) { return &foo{fields: fields}, nil }); err != nil {
		t.Fatalf("register foo: %v", err)
	}
	if err := reg.Register("pkg.Bar", Struct[bar]()); err != nil {
		t.Fatalf("register bar: %v", err)
	}
	return reg.Freeze()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func mustParse(t *testing.T, doc string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		t.Fatalf("parse %q: %v", doc, err)
	}
	return v
}

func TestDecodeNestedTaggedScenario(t *testing.T) {
	reg := testRegistry(t)
	raw := mustParse(t, `{"py/object":"pkg.Foo","a":1,"b":[1,{"py/object":"pkg.Bar","c":2}]}`)

	out := Decode(raw, reg)

	f, ok := out.(*foo)
	if !ok {
		t.Fatalf("expected *foo, got %T", out)
	}
	if _, present := f.fields[TagKey]; present {
		t.Fatal("tag key leaked into handler fields")
	}
	if f.fields["a"] != float64(1) {
		t.Fatalf("expected a=1, got %#v", f.fields["a"])
	}
	b, ok := f.fields["b"].([]any)
	if !ok || len(b) != 2 {
		t.Fatalf("expected two-element b, got %#v", f.fields["b"])
	}
	if b[0] != float64(1) {
		t.Fatalf("expected b[0]=1, got %#v", b[0])
	}
	inner, ok := b[1].(*bar)
	if !ok {
		t.Fatalf("expected *bar, got %T", b[1])
	}
	if inner.C != 2 {
		t.Fatalf("expected c=2, got %v", inner.C)
	}
}

func TestDecodeTerminalCases(t *testing.T) {
	reg := testRegistry(t)

	if got := Decode(nil, reg); got != nil {
		t.Fatalf("Decode(nil) = %#v", got)
	}
	for _, v := range []any{"x", float64(3.5), true, false, json.Number("7"), 42} {
		if got := Decode(v, reg); got != v {
			t.Fatalf("Decode(%#v) = %#v", v, got)
		}
	}

	empty := Decode([]any{}, reg)
	if s, ok := empty.([]any); !ok || s == nil || len(s) != 0 {
		t.Fatalf("Decode([]) = %#v", empty)
	}
	emptyMap := Decode(map[string]any{}, reg)
	if m, ok := emptyMap.(map[string]any); !ok || m == nil || len(m) != 0 {
		t.Fatalf("Decode({}) = %#v", emptyMap)
	}

	if got := Decode(struct{}{}, reg); got != nil {
		t.Fatalf("unsupported type should decode to nil, got %#v", got)
	}
}

func TestDecodeUntaggedIsStructurePreservingAndIdempotent(t *testing.T) {
	reg := testRegistry(t)
	docs := []string{
		`{"a":[1,2,{"b":null,"c":"x"}],"d":{},"e":[]}`,
		`[[],[[]],{"k":{"k":{"k":true}}}]`,
		`"plain"`,
		`{"user_id":3,"reasons":["a","b"]}`,
	}
	for _, doc := range docs {
		raw := mustParse(t, doc)
		once := Decode(raw, reg)
		if !reflect.DeepEqual(once, raw) {
			t.Fatalf("decode changed untagged data:\n got %#v\nwant %#v", once, raw)
		}
		twice := Decode(once, reg)
		if !reflect.DeepEqual(twice, once) {
			t.Fatalf("decode not idempotent for %s", doc)
		}
	}
}

func TestDecodeDoesNotMutateInput(t *testing.T) {
	reg := testRegistry(t)
	raw := mustParse(t, `{"list":[{"py/object":"pkg.Bar","c":1}],"py/object":"pkg.Foo"}`)
	before := mustParse(t, `{"list":[{"py/object":"pkg.Bar","c":1}],"py/object":"pkg.Foo"}`)

	_ = Decode(raw, reg)

	if !reflect.DeepEqual(raw, before) {
		t.Fatalf("input mutated: %#v", raw)
	}
}

func TestDecodeUnknownTagIsLocal(t *testing.T) {
	reg := testRegistry(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	var misses []string

	raw := mustParse(t, `{"ok":[{"py/object":"pkg.Bar","c":5},{"py/object":"pkg.Missing","x":1}],"n":2}`)
	out := Decode(raw, reg, WithLogger(logger), WithMissHook(func(tag string) { misses = append(misses, tag) }))

	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", out)
	}
	list := m["ok"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected sibling count preserved, got %d", len(list))
	}
	if _, ok := list[0].(*bar); !ok {
		t.Fatalf("sibling decode aborted: %#v", list[0])
	}
	if list[1] != nil {
		t.Fatalf("unknown tag should decode to nil, got %#v", list[1])
	}
	if m["n"] != float64(2) {
		t.Fatalf("unrelated field lost: %#v", m["n"])
	}
	if len(misses) != 1 || misses[0] != "pkg.Missing" {
		t.Fatalf("unexpected misses %v", misses)
	}
	if !strings.Contains(logs.String(), "pkg.Missing") {
		t.Fatalf("expected diagnostic naming the tag, got %q", logs.String())
	}
}

func TestDecodeUnknownTopLevelTag(t *testing.T) {
	reg := testRegistry(t)
	raw := mustParse(t, `{"py/object":"pkg.Nope"}`)
	if got := Decode(raw, reg, WithLogger(quietLogger())); got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
	nonString := mustParse(t, `{"py/object":7,"a":1}`)
	if got := Decode(nonString, reg, WithLogger(quietLogger())); got != nil {
		t.Fatalf("expected nil for non-string tag, got %#v", got)
	}
	if got := Decode(raw, nil, WithLogger(quietLogger())); got != nil {
		t.Fatalf("expected nil with nil registry, got %#v", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	reg := testRegistry(t)
	out, err := DecodeJSON([]byte(`[{"py/object":"pkg.Bar","c":9}]`), reg)
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	bars, err := SliceOf[*bar](out)
	if err != nil {
		t.Fatalf("SliceOf failed: %v", err)
	}
	if len(bars) != 1 || bars[0].C != 9 {
		t.Fatalf("unexpected bars %#v", bars)
	}

	if _, err := DecodeJSON([]byte(`{`), reg); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDecodeTypedHelpers(t *testing.T) {
	reg := testRegistry(t)

	b, err := As[*bar](Decode(mustParse(t, `{"py/object":"pkg.Bar","c":1}`), reg))
	if err != nil || b.C != 1 {
		t.Fatalf("As: %v %#v", err, b)
	}

	_, err = As[*bar](Decode(mustParse(t, `{"c":1}`), reg))
	if !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("expected ErrUnexpectedType, got %v", err)
	}

	_, err = SliceOf[*bar](Decode(mustParse(t, `{"c":1}`), reg))
	if !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("expected ErrUnexpectedType for non-array, got %v", err)
	}

	mixed := Decode(mustParse(t, `[{"py/object":"pkg.Bar","c":1},{"py/object":"pkg.Unknown"},null]`), reg, WithLogger(quietLogger()))
	got, err := SliceOf[*bar](mixed)
	if err != nil {
		t.Fatalf("SliceOf with nil entries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected nil entries dropped, got %d", len(got))
	}

	_, err = SliceOf[*bar](Decode(mustParse(t, `[1]`), reg))
	if !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("expected element type error, got %v", err)
	}
}

func TestTypedHelpersKeepDecodedValues(t *testing.T) {
	reg := testRegistry(t)

	list, err := DecodeJSON([]byte(`[{"py/object":"pkg.Bar","c":9},{"py/object":"pkg.Bar","c":10}]`), reg)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	bars, err := SliceOf[*bar](list)
	if err != nil || len(bars) != 2 || bars[1].C != 10 {
		t.Fatalf("SliceOf dropped decoded values: %v %#v", err, bars)
	}
	// Asserting twice gives the same values back.
	again, err := SliceOf[*bar](list)
	if err != nil || len(again) != 2 || again[0] != bars[0] {
		t.Fatalf("second assertion differs: %v %#v", err, again)
	}

	one, err := DecodeJSON([]byte(`{"py/object":"pkg.Bar","c":3}`), reg)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	b, err := As[*bar](one)
	if err != nil || b.C != 3 {
		t.Fatalf("As lost the decoded value: %v %#v", err, b)
	}
}

func TestStructErrorsUseDecoderLogger(t *testing.T) {
	reg := testRegistry(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	out := Decode(mustParse(t, `{"py/object":"pkg.Bar","c":"not a number"}`), reg, WithLogger(logger))

	if _, ok := out.(*bar); !ok {
		t.Fatalf("expected partly filled *bar, got %T", out)
	}
	if !strings.Contains(logs.String(), "pkg.Bar") || !strings.Contains(logs.String(), "fill") {
		t.Fatalf("expected fill diagnostic on the decoder logger, got %q", logs.String())
	}
}

func TestDecodeConcurrent(t *testing.T) {
	reg := testRegistry(t)
	raw := mustParse(t, `{"py/object":"pkg.Foo","items":[{"py/object":"pkg.Bar","c":1},{"py/object":"pkg.Bar","c":2}]}`)

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			out, ok := Decode(raw, reg).(*foo)
			if !ok {
				errs <- "unexpected result type"
				return
			}
			if len(out.fields["items"].([]any)) != 2 {
				errs <- "unexpected item count"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}
