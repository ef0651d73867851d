package kdb

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

type emitted struct {
	key   interface{}
	value interface{}
}

func runMap(t *testing.T, source string, doc string) []emitted {
	t.Helper()
	fn, err := newMapRegistry().Compile("v", source)
	if err != nil {
		t.Fatal(err)
	}
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		t.Fatal(err)
	}
	var out []emitted
	fn(m, func(key, value interface{}) {
		out = append(out, emitted{key, value})
	})
	return out
}

func TestCompileMapEmits(t *testing.T) {
	rows := runMap(t, `function (doc) {
		if (doc.type === "user" && doc.age >= 18) {
			emit([doc.name, doc.age], {"adult": true});
		} else {
			emit(null);
		}
	}`, `{"type":"user","name":"ann","age":30}`)

	assert.Equal(t, len(rows), 1)
	assert.Equal(t, rows[0].key, []interface{}{"ann", json.Number("30")})
	assert.Equal(t, rows[0].value, map[string]interface{}{"adult": true})

	rows = runMap(t, `function(doc) { if (doc.type === "user" && doc.age >= 18) { emit(doc.name, 1) } else { emit(null); } }`,
		`{"type":"user","name":"bob","age":12}`)
	assert.Equal(t, len(rows), 1)
	assert.Equal(t, rows[0].key, nil)
	assert.Equal(t, rows[0].value, nil)
}

func TestCompileMapMissingFields(t *testing.T) {
	rows := runMap(t, `function(doc) { if (doc.address.city) emit(doc.address.city, null); }`, `{"_id":"a"}`)
	assert.Equal(t, len(rows), 0)

	rows = runMap(t, `function(doc) { if (!doc.deleted) emit(doc.missing, doc.tags.length); }`, `{"tags":[1,2,3]}`)
	assert.Equal(t, len(rows), 1)
	assert.Equal(t, rows[0].key, nil)
	assert.Equal(t, rows[0].value, json.Number("3"))
}

func TestCompileMapEquality(t *testing.T) {
	rows := runMap(t, `function(doc) { if (doc.n == 1 || doc.s !== "x") emit(doc.n, null); }`, `{"n":1,"s":"x"}`)
	assert.Equal(t, len(rows), 1)

	rows = runMap(t, `function(doc) { if (doc.n === "1") emit(doc.n, null); }`, `{"n":1}`)
	assert.Equal(t, len(rows), 0)
}

func TestCompileMapErrors(t *testing.T) {
	reg := newMapRegistry()

	_, err := reg.Compile("by_name", "emit(doc.name)")
	if !errors.Is(err, ErrCompilation) {
		t.Fatalf("expected compilation error, got %v", err)
	}
	expected := "Compilation of the map function in the 'by_name' view failed: Expression does not eval to a function. (emit(doc.name))"
	if _, reason := errorString(err); reason != expected {
		t.Errorf("unexpected reason %s", reason)
	}

	for _, source := range []string{
		"function(doc) { while (true) {} }",
		"function(doc) { emit(doc.a, null) ",
		"function(doc) { emit(doc.a, 'unterminated); }",
		"function() { emit(1) }",
	} {
		if _, err := reg.Compile("v", source); !errors.Is(err, ErrCompilation) {
			t.Errorf("%s: expected compilation error, got %v", source, err)
		}
	}
}

func TestRegisteredSourceWins(t *testing.T) {
	reg := newMapRegistry()
	called := false
	reg.Register("  native:byType ", func(doc map[string]interface{}, emit func(key, value interface{})) {
		called = true
	})
	fn, err := reg.Compile("v", "native:byType")
	if err != nil {
		t.Fatal(err)
	}
	fn(map[string]interface{}{}, func(key, value interface{}) {})
	if !called {
		t.Errorf("expected the registered function")
	}
}
