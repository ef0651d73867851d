package kcouch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/valyala/fastjson"
)

// TypeField holds the document type tag of typed documents.
const TypeField = "document_type"

// Schema declares the type tag and the typed fields of a kind of document.
// Fields not declared are still kept on the document as plain JSON values.
type Schema struct {
	Type   string
	fields map[string]Codec
	order  []string
}

// NewSchema starts a schema for documents tagged documentType. An empty
// documentType produces untagged documents.
func NewSchema(documentType string) *Schema {
	return &Schema{Type: documentType, fields: map[string]Codec{}}
}

// Field declares name with codec and returns the schema for chaining.
func (s *Schema) Field(name string, codec Codec) *Schema {
	if _, ok := s.fields[name]; !ok {
		s.order = append(s.order, name)
	}
	s.fields[name] = codec
	return s
}

// Fields returns the declared field names in declaration order.
func (s *Schema) Fields() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

func (s *Schema) codec(name string) (Codec, bool) {
	if s == nil {
		return Codec{}, false
	}
	c, ok := s.fields[name]
	return c, ok
}

// New returns an unsaved document with every declared field at its default.
func (s *Schema) New() *Document {
	doc := &Document{schema: s, values: map[string]interface{}{}}
	if s == nil {
		return doc
	}
	for _, name := range s.order {
		doc.values[name] = s.fields[name].Default
	}
	return doc
}

// Document is a stored JSON object with an identity and a revision.
type Document struct {
	ID  string
	Rev string

	schema *Schema
	values map[string]interface{}
}

// NewDocument returns an untyped document holding values.
func NewDocument(id string, values map[string]interface{}) *Document {
	doc := &Document{ID: id, values: map[string]interface{}{}}
	for k, v := range values {
		doc.Set(k, v)
	}
	return doc
}

func (d *Document) Schema() *Schema {
	return d.schema
}

// Type returns the document type tag, empty for untyped documents.
func (d *Document) Type() string {
	if d.schema != nil && d.schema.Type != "" {
		return d.schema.Type
	}
	t, _ := d.values[TypeField].(string)
	return t
}

// Get returns the Go value of name.
func (d *Document) Get(name string) interface{} {
	return d.values[name]
}

// Set assigns name. Keys starting with an underscore are reserved and are
// never written back to the store.
func (d *Document) Set(name string, value interface{}) {
	switch name {
	case "_id":
		d.ID, _ = value.(string)
		return
	case "_rev":
		d.Rev, _ = value.(string)
		return
	}
	if d.values == nil {
		d.values = map[string]interface{}{}
	}
	d.values[name] = value
}

func (d *Document) Delete(name string) {
	delete(d.values, name)
}

// Keys returns the names of all stored values, sorted.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Data returns the JSON form of the document as written to the store.
func (d *Document) Data() (map[string]interface{}, error) {
	data := make(map[string]interface{}, len(d.values)+3)
	for name, value := range d.values {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if codec, ok := d.schema.codec(name); ok {
			encoded, err := codec.Encode(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			value = encoded
		}
		data[name] = value
	}
	if d.ID != "" {
		data["_id"] = d.ID
	}
	if d.Rev != "" {
		data["_rev"] = d.Rev
	}
	if d.schema != nil && d.schema.Type != "" {
		data[TypeField] = d.schema.Type
	}
	return data, nil
}

func (d *Document) MarshalJSON() ([]byte, error) {
	data, err := d.Data()
	if err != nil {
		return nil, err
	}
	return JSONMarshal(data)
}

func (d *Document) String() string {
	if d.ID == "" {
		return "document"
	}
	return "document " + d.ID
}

// ParseDocument decodes a stored document through schema, which may be nil.
// A document_type other than the schema's type fails with ErrTypeMismatch.
func ParseDocument(data []byte, schema *Schema) (*Document, error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)
	v, err := parser.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrValidation)
	}
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", "document expected as json object", ErrValidation)
	}

	doc := &Document{schema: schema, values: map[string]interface{}{}}
	var visitErr error
	obj.Visit(func(key []byte, value *fastjson.Value) {
		if visitErr != nil {
			return
		}
		name := string(key)
		switch {
		case name == "_id":
			doc.ID = string(value.GetStringBytes())
			return
		case name == "_rev":
			doc.Rev = string(value.GetStringBytes())
			return
		case strings.HasPrefix(name, "_"):
			return
		}
		plain := toInterface(value)
		if codec, ok := schema.codec(name); ok {
			plain, visitErr = codec.Decode(plain)
			if visitErr != nil {
				visitErr = fmt.Errorf("%s: %w", name, visitErr)
				return
			}
		}
		doc.values[name] = plain
	})
	if visitErr != nil {
		return nil, visitErr
	}

	if schema != nil && schema.Type != "" {
		if stored, ok := doc.values[TypeField]; ok && stored != schema.Type {
			return nil, fmt.Errorf("document_type %q expected, got %q: %w", schema.Type, stored, ErrTypeMismatch)
		}
		delete(doc.values, TypeField)
	}
	return doc, nil
}

func toInterface(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeObject:
		obj, _ := v.Object()
		m := make(map[string]interface{}, obj.Len())
		obj.Visit(func(key []byte, value *fastjson.Value) {
			m[string(key)] = toInterface(value)
		})
		return m
	case fastjson.TypeArray:
		values, _ := v.Array()
		a := make([]interface{}, len(values))
		for i, value := range values {
			a[i] = toInterface(value)
		}
		return a
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return json.Number(v.String())
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
