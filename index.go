package kcouch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
)

const (
	// IndexCreated reports a new index.
	IndexCreated = "created"
	// IndexExists is returned by the store when an identical index is posted.
	IndexExists = "exists"
	// IndexUnchanged reports that the stored definition already matched and no
	// request was made.
	IndexUnchanged = "unchanged"
)

// IndexField is one entry of an index field list. A field without a
// direction is encoded as a bare name.
type IndexField struct {
	Name      string
	Direction string
}

func (f IndexField) MarshalJSON() ([]byte, error) {
	if f.Direction == "" {
		return json.Marshal(f.Name)
	}
	return json.Marshal(map[string]string{f.Name: f.Direction})
}

func (f *IndexField) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*f = IndexField{Name: name}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("index field must be a name or a {name: direction} object: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("index field object must have exactly one key, got %d", len(m))
	}
	for name, direction := range m {
		*f = IndexField{Name: name, Direction: direction}
	}
	return nil
}

// IndexDefinition is the body of a Mango json index. Keys other than fields
// are kept verbatim in Extra.
type IndexDefinition struct {
	Fields []IndexField
	Extra  map[string]json.RawMessage
}

func (d IndexDefinition) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(d.Extra)+1)
	for k, v := range d.Extra {
		m[k] = v
	}
	if d.Fields != nil {
		m["fields"] = d.Fields
	}
	return json.Marshal(m)
}

func (d *IndexDefinition) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*d = IndexDefinition{}
	if raw, ok := m["fields"]; ok {
		if err := json.Unmarshal(raw, &d.Fields); err != nil {
			return err
		}
		delete(m, "fields")
	}
	if len(m) > 0 {
		d.Extra = m
	}
	return nil
}

// Equal compares two definitions after normalization, ignoring formatting
// of the extra keys.
func (d IndexDefinition) Equal(other IndexDefinition) bool {
	a, err := canonicalJSON(NormalizeIndex(d))
	if err != nil {
		return false
	}
	b, err := canonicalJSON(NormalizeIndex(other))
	if err != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func canonicalJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(data, &out)
	return out, err
}

// NormalizeIndex returns a copy of def where every bare field name has
// become an ascending field. It is idempotent.
func NormalizeIndex(def IndexDefinition) IndexDefinition {
	if def.Fields == nil {
		return def
	}
	fields := make([]IndexField, len(def.Fields))
	for i, f := range def.Fields {
		if f.Direction == "" {
			f.Direction = "asc"
		}
		fields[i] = f
	}
	def.Fields = fields
	return def
}

// IndexKey identifies an index. An empty DesignDoc stands for the built-in
// _all_docs index, which has no design document.
type IndexKey struct {
	DesignDoc string
	Name      string
}

func (k IndexKey) String() string {
	if k.DesignDoc == "" {
		return k.Name
	}
	return k.DesignDoc + "/" + k.Name
}

// Index is an index as listed by the store.
type Index struct {
	DesignDoc  string
	Name       string
	Type       string
	Definition IndexDefinition
}

func (i Index) Key() IndexKey {
	return IndexKey{DesignDoc: i.DesignDoc, Name: i.Name}
}

// IndexResult is the outcome of CreateIndex.
type IndexResult struct {
	Result    string `json:"result"`
	DesignDoc string `json:"ddoc"`
	Name      string `json:"name"`
}

// ListIndexes returns the indexes of the database keyed by design document
// and name. Non-empty ddoc or name filter the listing.
func (db *Database) ListIndexes(ctx context.Context, ddoc, name string) (map[IndexKey]Index, error) {
	var listing struct {
		Indexes []struct {
			DesignDoc *string         `json:"ddoc"`
			Name      string          `json:"name"`
			Type      string          `json:"type"`
			Def       IndexDefinition `json:"def"`
		} `json:"indexes"`
	}
	if err := db.server.getJSON(ctx, db.path("_index"), nil, &listing); err != nil {
		return nil, err
	}
	indexes := make(map[IndexKey]Index, len(listing.Indexes))
	for _, item := range listing.Indexes {
		index := Index{Name: item.Name, Type: item.Type, Definition: item.Def}
		if item.DesignDoc != nil {
			index.DesignDoc = strings.TrimPrefix(*item.DesignDoc, designPrefix)
		}
		if ddoc != "" && ddoc != index.DesignDoc {
			continue
		}
		if name != "" && name != index.Name {
			continue
		}
		indexes[index.Key()] = index
	}
	return indexes, nil
}

// GetIndex returns the index ddoc/name, or ErrNotFound.
func (db *Database) GetIndex(ctx context.Context, ddoc, name string) (Index, error) {
	indexes, err := db.ListIndexes(ctx, ddoc, name)
	if err != nil {
		return Index{}, err
	}
	index, ok := indexes[IndexKey{DesignDoc: ddoc, Name: name}]
	if !ok {
		return Index{}, fmt.Errorf("index %s/%s: %w", ddoc, name, ErrNotFound)
	}
	return index, nil
}

// CreateIndex makes sure ddoc/name is defined as def. When the stored
// definition already matches the normalized def no write is made and the
// result is IndexUnchanged.
func (db *Database) CreateIndex(ctx context.Context, ddoc, name string, def IndexDefinition) (IndexResult, error) {
	if ddoc == "" || name == "" {
		return IndexResult{}, invalidArgument("index design document and name are required")
	}
	def = NormalizeIndex(def)

	existing, err := db.ListIndexes(ctx, ddoc, name)
	if err != nil {
		return IndexResult{}, err
	}
	if index, ok := existing[IndexKey{DesignDoc: ddoc, Name: name}]; ok && index.Definition.Equal(def) {
		return IndexResult{Result: IndexUnchanged, DesignDoc: ddoc, Name: name}, nil
	}

	body := map[string]interface{}{
		"index": def,
		"ddoc":  ddoc,
		"name":  name,
	}
	data, err := db.server.Do(ctx, http.MethodPost, db.path("_index"), nil, body)
	if err != nil {
		return IndexResult{}, err
	}
	var resp struct {
		Result string `json:"result"`
		ID     string `json:"id"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return IndexResult{}, fmt.Errorf("decode index result: %w", err)
	}
	return IndexResult{
		Result:    resp.Result,
		DesignDoc: strings.TrimPrefix(resp.ID, designPrefix),
		Name:      resp.Name,
	}, nil
}

// DeleteIndex removes the json index ddoc/name.
func (db *Database) DeleteIndex(ctx context.Context, ddoc, name string) error {
	if ddoc == "" || name == "" {
		return invalidArgument("index design document and name are required")
	}
	_, err := db.server.Do(ctx, http.MethodDelete,
		db.path("_index", url.PathEscape(strings.TrimPrefix(ddoc, designPrefix)), "json", url.PathEscape(name)), nil, nil)
	return err
}
