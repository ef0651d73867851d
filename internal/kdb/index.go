package kdb

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

type jsonIndex struct {
	DesignDoc     string
	Name          string
	Fields        []string
	Def           json.RawMessage
	PartialFilter map[string]interface{}
}

type indexOptions struct {
	Def struct {
		Fields                []map[string]string    `json:"fields"`
		PartialFilterSelector map[string]interface{} `json:"partial_filter_selector,omitempty"`
	} `json:"def"`
}

func decodeUseNumber(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// indexFromView reads the json index stored in a query view.
func indexFromView(ddocID, name string, v *DesignDocumentView) (jsonIndex, error) {
	index := jsonIndex{DesignDoc: ddocID, Name: name}
	var opts indexOptions
	if len(v.Options) > 0 {
		if err := decodeUseNumber(v.Options, &opts); err != nil {
			return index, fmt.Errorf("index %s options: %s: %w", name, err, ErrInvalidDesignDocument)
		}
	}
	if len(opts.Def.Fields) == 0 {
		var m struct {
			Fields                map[string]string      `json:"fields"`
			PartialFilterSelector map[string]interface{} `json:"partial_filter_selector"`
		}
		if err := decodeUseNumber(v.Map, &m); err != nil {
			return index, fmt.Errorf("index %s map: %s: %w", name, err, ErrInvalidDesignDocument)
		}
		for _, field := range objectKeysString(m.Fields) {
			opts.Def.Fields = append(opts.Def.Fields, map[string]string{field: m.Fields[field]})
		}
		opts.Def.PartialFilterSelector = m.PartialFilterSelector
	}
	for _, f := range opts.Def.Fields {
		for field := range f {
			index.Fields = append(index.Fields, field)
		}
	}
	index.PartialFilter = opts.Def.PartialFilterSelector
	def, err := JSONMarshal(opts.Def)
	if err != nil {
		return index, err
	}
	index.Def = def
	return index, nil
}

func objectKeysString(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compileIndexMap builds the map function of a json index: it emits the
// indexed field values of documents that have all of them and pass the
// partial filter.
func compileIndexMap(name string, v *DesignDocumentView) (MapFunc, error) {
	index, err := indexFromView("", name, v)
	if err != nil {
		return nil, err
	}
	if len(index.Fields) == 0 {
		return nil, fmt.Errorf("index %s has no fields: %w", name, ErrInvalidDesignDocument)
	}
	filter := matcher(func(map[string]interface{}) bool { return true })
	if index.PartialFilter != nil {
		if filter, err = compileSelector(index.PartialFilter); err != nil {
			return nil, err
		}
	}
	fields := index.Fields
	return func(doc map[string]interface{}, emit func(key, value interface{})) {
		if !filter(doc) {
			return
		}
		key := make([]interface{}, 0, len(fields))
		for _, field := range fields {
			value, ok := lookupField(doc, field)
			if !ok {
				return
			}
			key = append(key, value)
		}
		emit(key, nil)
	}, nil
}

func (db *Database) jsonIndexes() ([]jsonIndex, error) {
	docs, err := db.designDocuments()
	if err != nil {
		return nil, err
	}
	var indexes []jsonIndex
	for _, doc := range docs {
		var ddoc DesignDocument
		if err := json.Unmarshal(doc.Data, &ddoc); err != nil || ddoc.Language != "query" {
			continue
		}
		names := make([]string, 0, len(ddoc.Views))
		for name := range ddoc.Views {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			index, err := indexFromView(doc.ID, name, ddoc.Views[name])
			if err != nil {
				continue
			}
			indexes = append(indexes, index)
		}
	}
	return indexes, nil
}

// ListIndexes answers GET /{db}/_index.
func (db *Database) ListIndexes() ([]byte, error) {
	indexes, err := db.jsonIndexes()
	if err != nil {
		return nil, err
	}
	list := []IndexInfo{{
		Name: "_all_docs",
		Type: "special",
		Def:  json.RawMessage(`{"fields":[{"_id":"asc"}]}`),
	}}
	for _, index := range indexes {
		ddoc := index.DesignDoc
		list = append(list, IndexInfo{DesignDoc: &ddoc, Name: index.Name, Type: "json", Def: index.Def})
	}
	return JSONMarshal(struct {
		TotalRows int         `json:"total_rows"`
		Indexes   []IndexInfo `json:"indexes"`
	}{len(list), list})
}

func normalizeIndexFields(raw []json.RawMessage) ([]map[string]string, error) {
	fields := make([]map[string]string, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			fields = append(fields, map[string]string{name: "asc"})
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(item, &m); err != nil || len(m) != 1 {
			return nil, fmt.Errorf("Invalid index field: %s: %w", item, ErrBadRequest)
		}
		for name, dir := range m {
			if dir != "asc" && dir != "desc" {
				return nil, fmt.Errorf("Invalid sort direction %q for field %s: %w", dir, name, ErrBadRequest)
			}
		}
		fields = append(fields, m)
	}
	return fields, nil
}

func sameJSON(a, b []byte) bool {
	var x, y interface{}
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	return reflect.DeepEqual(x, y)
}

// CreateIndex answers POST /{db}/_index. The index is stored as a view of a
// query design document; posting an identical definition again reports
// "exists" without a write.
func (db *Database) CreateIndex(body []byte) ([]byte, error) {
	if err := ValidateIndexRequest(body); err != nil {
		return nil, err
	}
	req := &IndexRequest{}
	if err := decodeUseNumber(body, req); err != nil {
		return nil, fmt.Errorf("%s: %w", MessageBadJSON, ErrBadJSON)
	}
	fields, err := normalizeIndexFields(req.Index.Fields)
	if err != nil {
		return nil, err
	}
	if req.Index.PartialFilterSelector != nil {
		if _, err := compileSelector(req.Index.PartialFilterSelector); err != nil {
			return nil, err
		}
	}

	var opts indexOptions
	opts.Def.Fields = fields
	opts.Def.PartialFilterSelector = req.Index.PartialFilterSelector
	def, err := JSONMarshal(opts.Def)
	if err != nil {
		return nil, err
	}

	hash := fmt.Sprintf("%x", sha1.Sum(def))
	name := req.Name
	if name == "" {
		name = hash
	}
	ddocID := req.DesignDoc
	if ddocID == "" {
		ddocID = hash
	}
	if !strings.HasPrefix(ddocID, designPrefix) {
		ddocID = designPrefix + ddocID
	}

	mapFields := make(map[string]string, len(fields))
	for _, f := range fields {
		for k, dir := range f {
			mapFields[k] = dir
		}
	}
	mapDef := map[string]interface{}{"fields": mapFields}
	if opts.Def.PartialFilterSelector != nil {
		mapDef["partial_filter_selector"] = opts.Def.PartialFilterSelector
	}
	mapJSON, err := JSONMarshal(mapDef)
	if err != nil {
		return nil, err
	}
	optsJSON, err := JSONMarshal(opts)
	if err != nil {
		return nil, err
	}

	ddoc := DesignDocument{Language: "query", Views: map[string]*DesignDocumentView{}}
	newDoc := &Document{ID: ddocID}
	current, err := db.GetDocument(ddocID)
	switch {
	case err == nil:
		if err := json.Unmarshal(current.Data, &ddoc); err != nil {
			return nil, fmt.Errorf("%s: %w", err, ErrInvalidDesignDocument)
		}
		if ddoc.Language != "query" {
			return nil, fmt.Errorf("%s is not a query design document: %w", ddocID, ErrBadRequest)
		}
		if ddoc.Views == nil {
			ddoc.Views = map[string]*DesignDocumentView{}
		}
		if existing, ok := ddoc.Views[name]; ok {
			if index, err := indexFromView(ddocID, name, existing); err == nil && sameJSON(index.Def, def) {
				return JSONMarshal(map[string]string{"result": "exists", "id": ddocID, "name": name})
			}
		}
		newDoc.Version, newDoc.Hash = current.Version, current.Hash
	case errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrDocumentDeleted):
	default:
		return nil, err
	}

	ddoc.Views[name] = &DesignDocumentView{Map: mapJSON, Reduce: reduceCount, Options: optsJSON}
	if newDoc.Data, err = JSONMarshal(ddoc); err != nil {
		return nil, err
	}
	if _, err := db.PutDocument(newDoc); err != nil {
		return nil, err
	}
	return JSONMarshal(map[string]string{"result": "created", "id": ddocID, "name": name})
}

// DeleteIndex answers DELETE /{db}/_index/{ddoc}/json/{name}. The design
// document goes away with its last index.
func (db *Database) DeleteIndex(ddoc, name string) ([]byte, error) {
	ddocID := ddoc
	if !strings.HasPrefix(ddocID, designPrefix) {
		ddocID = designPrefix + ddoc
	}
	current, err := db.GetDocument(ddocID)
	if errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrDocumentDeleted) {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, err
	}
	var design DesignDocument
	if err := json.Unmarshal(current.Data, &design); err != nil || design.Language != "query" {
		return nil, ErrIndexNotFound
	}
	if _, ok := design.Views[name]; !ok {
		return nil, ErrIndexNotFound
	}
	delete(design.Views, name)

	newDoc := &Document{ID: ddocID, Version: current.Version, Hash: current.Hash}
	if len(design.Views) == 0 {
		newDoc.Deleted = true
		newDoc.Data = []byte("{}")
	} else if newDoc.Data, err = JSONMarshal(design); err != nil {
		return nil, err
	}
	if _, err := db.PutDocument(newDoc); err != nil {
		return nil, err
	}
	return []byte(`{"ok":true}`), nil
}
