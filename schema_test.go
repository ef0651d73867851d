package kcouch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestMergeNamespacesContributors(t *testing.T) {
	reports := DesignSpec{Views: map[string]ViewSpec{"by_date": {Map: "function(doc) { emit(doc.date, null); }"}}}
	byStatus := IndexDefinition{Fields: []IndexField{{Name: "status"}}}
	fragments := Fragments{
		"shop": {"main": {
			"orders": {
				Designs: map[string]DesignSpec{"reports": reports},
				Index:   map[string]map[string]IndexDefinition{"idx": {"by_status": byStatus}},
			},
		}},
		"crm": {
			"main": {
				"orders":    {Designs: map[string]DesignSpec{"reports": reports}},
				"customers": {},
				"audit":     nil,
			},
			"archive": {"old": {}},
		},
	}

	merged := Merge(fragments)
	assert.Equal(t, sortedKeys(merged), []string{"archive", "main"})
	assert.Equal(t, sortedKeys(merged["main"]), []string{"audit", "customers", "orders"})

	orders := merged["main"]["orders"]
	assert.Equal(t, sortedKeys(orders.Designs), []string{"crm_reports", "shop_reports"})
	assert.Equal(t, sortedKeys(orders.Index), []string{"shop_idx"})
	assert.Equal(t, orders.Index["shop_idx"]["by_status"].Equal(byStatus), true)

	assert.Equal(t, merged["main"]["customers"].Designs == nil, true)
	assert.Equal(t, merged["main"]["customers"].Index == nil, true)
	assert.NotEqual(t, merged["main"]["audit"], nil)

	// inputs are left alone
	assert.Equal(t, sortedKeys(fragments["shop"]["main"]["orders"].Designs), []string{"reports"})
	orders.Designs["crm_reports"].Views["extra"] = ViewSpec{Map: "x"}
	_, leaked := fragments["crm"]["main"]["orders"].Designs["reports"].Views["extra"]
	assert.Equal(t, leaked, false)
}

func TestMergeSameIndexDesignFromTwoContributors(t *testing.T) {
	byA := IndexDefinition{Fields: []IndexField{{Name: "a"}}}
	byB := IndexDefinition{Fields: []IndexField{{Name: "b", Direction: "desc"}}}
	merged := Merge(Fragments{
		"shop": {"main": {"orders": {Index: map[string]map[string]IndexDefinition{"index1": {"by_field": byA}}}}},
		"crm":  {"main": {"orders": {Index: map[string]map[string]IndexDefinition{"index1": {"by_field": byB}}}}},
	})

	orders := merged["main"]["orders"]
	assert.Equal(t, sortedKeys(orders.Index), []string{"crm_index1", "shop_index1"})
	assert.Equal(t, orders.Index["shop_index1"]["by_field"].Equal(byA), true)
	assert.Equal(t, orders.Index["crm_index1"]["by_field"].Equal(byB), true)
	assert.Equal(t, orders.Designs == nil, true)
}

func TestNormalizeIndex(t *testing.T) {
	def := IndexDefinition{Fields: []IndexField{{Name: "a"}, {Name: "b", Direction: "desc"}}}
	normalized := NormalizeIndex(def)
	assert.Equal(t, normalized.Fields, []IndexField{{Name: "a", Direction: "asc"}, {Name: "b", Direction: "desc"}})
	assert.Equal(t, NormalizeIndex(normalized), normalized)
	assert.Equal(t, def.Fields[0].Direction, "")

	assert.Equal(t, def.Equal(normalized), true)
	assert.Equal(t, def.Equal(IndexDefinition{Fields: []IndexField{{Name: "a", Direction: "desc"}, {Name: "b", Direction: "desc"}}}), false)
	assert.Equal(t, NormalizeIndex(IndexDefinition{}).Fields == nil, true)

	var a, b IndexDefinition
	assert.Equal(t, json.Unmarshal([]byte(`{"fields":["a"],"partial_filter_selector":{"x":1}}`), &a), nil)
	assert.Equal(t, json.Unmarshal([]byte(`{ "partial_filter_selector" : { "x" : 1 }, "fields" : [{"a":"asc"}] }`), &b), nil)
	assert.Equal(t, a.Equal(b), true)

	data, err := json.Marshal(a)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(data), `{"fields":["a"],"partial_filter_selector":{"x":1}}`)

	assert.NotEqual(t, json.Unmarshal([]byte(`{"fields":[{"a":"asc","b":"asc"}]}`), &a), nil)
}

const yamlFragment = `
main:
  orders:
    designs:
      reports:
        views:
          by_date:
            map: "function(doc) { emit(doc.date, null); }"
            reduce: _count
    index:
      idx:
        by_status:
          fields:
            - status: asc
            - date: desc
          partial_filter_selector:
            type: order
  customers: {}
`

const tomlFragment = `
[main.orders.designs.reports.views.by_date]
map = "function(doc) { emit(doc.date, null); }"
reduce = "_count"

[main.orders.index.idx.by_status]
fields = [{ status = "asc" }, { date = "desc" }]
partial_filter_selector = { type = "order" }

[main.customers]
`

const jsonFragment = `{
  "main": {
    "orders": {
      "designs": {"reports": {"views": {"by_date": {"map": "function(doc) { emit(doc.date, null); }", "reduce": "_count"}}}},
      "index": {"idx": {"by_status": {"fields": [{"status": "asc"}, {"date": "desc"}], "partial_filter_selector": {"type": "order"}}}}
    },
    "customers": {}
  }
}`

func TestDecodeFragmentFormats(t *testing.T) {
	fromYAML, err := DecodeFragment([]byte(yamlFragment), ".yaml")
	assert.Equal(t, err, nil)
	fromTOML, err := DecodeFragment([]byte(tomlFragment), ".toml")
	assert.Equal(t, err, nil)
	fromJSON, err := DecodeFragment([]byte(jsonFragment), ".json")
	assert.Equal(t, err, nil)

	assert.Equal(t, fromYAML, fromJSON)
	assert.Equal(t, fromTOML, fromJSON)

	orders := fromJSON["main"]["orders"]
	assert.Equal(t, orders.Designs["reports"].Views["by_date"].Reduce, "_count")
	assert.Equal(t, orders.Index["idx"]["by_status"].Fields[1], IndexField{Name: "date", Direction: "desc"})
	assert.Equal(t, string(orders.Index["idx"]["by_status"].Extra["partial_filter_selector"]), `{"type":"order"}`)
	assert.Equal(t, fromJSON["main"]["customers"], &DatabaseSchema{})
}

func TestDecodeFragmentRejectsUnknownKeys(t *testing.T) {
	for name, fragment := range map[string]string{
		".yaml": "main:\n  orders:\n    views: {}\n",
		".json": `{"main":{"orders":{"designs":{"reports":{"filters":{}}}}}}`,
		".toml": "[main.orders.designs.reports.views.by_date]\nmap = \"x\"\nsort = \"y\"\n",
	} {
		_, err := DecodeFragment([]byte(fragment), name)
		assert.Equal(t, errors.Is(err, ErrValidation), true)
	}

	_, err := DecodeFragment([]byte("main: ["), ".yml")
	assert.Equal(t, errors.Is(err, ErrValidation), true)

	_, err = DecodeFragment([]byte("{}"), ".ini")
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
}

func TestLoadFragments(t *testing.T) {
	dir := t.TempDir()
	source := "function(doc) {\n  if (doc.date) emit(doc.date, null);\n}\n"
	files := map[string]string{
		"shop.yaml":  "main:\n  orders:\n    designs:\n      reports:\n        views:\n          by_date:\n            map: by_date.js\n            reduce: _count\n",
		"by_date.js": source,
		"crm.json":   `{"main":{"customers":{}}}`,
		"notes.txt":  "not a fragment",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	fragments, err := LoadFragments(dir)
	assert.Equal(t, err, nil)
	assert.Equal(t, sortedKeys(fragments), []string{"crm", "shop"})

	view := fragments["shop"]["main"]["orders"].Designs["reports"].Views["by_date"]
	assert.Equal(t, view.Map, source)
	assert.Equal(t, view.Reduce, "_count")

	merged := Merge(fragments)
	assert.Equal(t, sortedKeys(merged["main"]), []string{"customers", "orders"})
	assert.Equal(t, sortedKeys(merged["main"]["orders"].Designs), []string{"shop_reports"})

	_, err = LoadFragments(dir, filepath.Join(dir, "shop.yaml"))
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)

	_, err = LoadFragments(filepath.Join(dir, "missing.yaml"))
	assert.NotEqual(t, err, nil)
}

func TestSchemaTreeEncodeRoundTrip(t *testing.T) {
	tree := SchemaTree{"main": {
		"orders": {
			Designs: map[string]DesignSpec{"shop_reports": {
				Language: DefaultLanguage,
				Views:    map[string]ViewSpec{"by_date": {Map: "function(doc) { if (doc.total > 0) emit(doc.date, null); }", Reduce: "_sum"}},
			}},
			Index: map[string]map[string]IndexDefinition{"shop_idx": {"by_status": {
				Fields: []IndexField{{Name: "status", Direction: "asc"}, {Name: "date", Direction: "desc"}},
				Extra:  map[string]json.RawMessage{"partial_filter_selector": json.RawMessage(`{"type":"order"}`)},
			}}},
		},
		"customers": {},
	}}

	for _, ext := range []string{".yaml", ".toml", ".json"} {
		data, err := tree.Encode(ext)
		assert.Equal(t, err, nil)
		decoded, err := DecodeFragment(data, ext)
		assert.Equal(t, err, nil)
		assert.Equal(t, decoded, tree)
	}

	_, err := tree.Encode("xml")
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
}
