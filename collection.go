package kcouch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection manages the documents of one schema in one database.
type Collection struct {
	db     *Database
	schema *Schema
}

func NewCollection(db *Database, schema *Schema) *Collection {
	return &Collection{db: db, schema: schema}
}

func (c *Collection) Database() *Database {
	return c.db
}

// New returns an unsaved document with defaults applied.
func (c *Collection) New() *Document {
	return c.schema.New()
}

// Get reads id. A missing document fails with ErrDoesNotExist.
func (c *Collection) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := c.db.Get(ctx, id, c.schema)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrDoesNotExist)
	}
	return doc, err
}

func (c *Collection) Save(ctx context.Context, doc *Document, opts SaveOptions) (SaveResult, error) {
	if doc.schema == nil {
		doc.schema = c.schema
	}
	return c.db.Save(ctx, doc, opts)
}

// Delete removes the current revision of doc.
func (c *Collection) Delete(ctx context.Context, doc *Document) error {
	return c.db.Delete(ctx, doc.ID, doc.Rev)
}

// View iterates design/view and decodes each row through the schema. The
// included document is used when present, the emitted value otherwise.
func (c *Collection) View(ctx context.Context, design, view string, opts ...QueryOption) (*DocumentRows, error) {
	rows, err := c.db.View(ctx, design, view, opts...)
	if err != nil {
		return nil, err
	}
	return &DocumentRows{source: rows, raw: rowDocument(rows), schema: c.schema}, nil
}

func (c *Collection) ViewOne(ctx context.Context, design, view string, key interface{}, opts ...QueryOption) (*Document, error) {
	row, err := c.db.ViewOne(ctx, design, view, key, opts...)
	if err != nil {
		return nil, err
	}
	raw := row.Doc
	if len(raw) == 0 {
		raw = row.Value
	}
	return ParseDocument(raw, c.schema)
}

// Find iterates the documents matching selector.
func (c *Collection) Find(ctx context.Context, selector interface{}, opts ...QueryOption) (*DocumentRows, error) {
	rows, err := c.db.Find(ctx, selector, opts...)
	if err != nil {
		return nil, err
	}
	return &DocumentRows{source: rows, raw: rows.Doc, schema: c.schema}, nil
}

func (c *Collection) FindOne(ctx context.Context, selector interface{}, opts ...QueryOption) (*Document, error) {
	raw, err := c.db.FindOne(ctx, selector, opts...)
	if err != nil {
		return nil, err
	}
	return ParseDocument(raw, c.schema)
}

func rowDocument(rows *ViewRows) func() json.RawMessage {
	return func() json.RawMessage {
		row := rows.Row()
		if len(row.Doc) > 0 {
			return row.Doc
		}
		return row.Value
	}
}

type rowSource interface {
	Next() bool
	Err() error
}

// DocumentRows decodes the rows of a view or find iterator as documents.
// A row that fails to decode stops the iteration.
type DocumentRows struct {
	source rowSource
	raw    func() json.RawMessage
	schema *Schema

	current *Document
	err     error
}

func (r *DocumentRows) Next() bool {
	if r.err != nil || !r.source.Next() {
		return false
	}
	doc, err := ParseDocument(r.raw(), r.schema)
	if err != nil {
		r.err = err
		return false
	}
	r.current = doc
	return true
}

func (r *DocumentRows) Document() *Document {
	return r.current
}

func (r *DocumentRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.source.Err()
}
