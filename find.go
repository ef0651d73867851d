package kcouch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Fields restricts the returned documents to the named fields.
func Fields(fields ...string) QueryOption {
	return func(o *queryOptions) { o.fields = fields }
}

// Sort orders a find query. Each entry is a field name or a
// {field: "asc"|"desc"} object.
func Sort(sort ...interface{}) QueryOption {
	return func(o *queryOptions) { o.sort = sort }
}

// UseIndex names the design document, or [ddoc, index] pair, to answer a
// find query with.
func UseIndex(index interface{}) QueryOption {
	return func(o *queryOptions) { o.useIndex = index }
}

// Warn controls whether a store warning is logged. The warning is always
// available through FindRows.Warning.
func Warn(enabled bool) QueryOption {
	return func(o *queryOptions) { o.warn = enabled }
}

type findRequest struct {
	Selector interface{}   `json:"selector"`
	Skip     int           `json:"skip"`
	Limit    int           `json:"limit"`
	Fields   []string      `json:"fields,omitempty"`
	Sort     []interface{} `json:"sort,omitempty"`
	UseIndex interface{}   `json:"use_index,omitempty"`
}

// FindRows iterates the documents matching a selector, one page per
// request, advancing by skip.
type FindRows struct {
	ctx     context.Context
	db      *Database
	request findRequest
	warn    bool

	batchSize int
	limited   bool
	remaining int

	buffer  []json.RawMessage
	pos     int
	current json.RawMessage
	warning string
	done    bool
	err     error
}

// Find returns an iterator over the documents matching selector.
func (db *Database) Find(ctx context.Context, selector interface{}, opts ...QueryOption) (*FindRows, error) {
	o, err := newQueryOptions(opts)
	if err != nil {
		return nil, err
	}
	if selector == nil {
		selector = map[string]interface{}{}
	}
	return &FindRows{
		ctx: ctx,
		db:  db,
		request: findRequest{
			Selector: selector,
			Skip:     o.skip,
			Fields:   o.fields,
			Sort:     o.sort,
			UseIndex: o.useIndex,
		},
		warn:      o.warn,
		batchSize: o.batchSize,
		limited:   o.limitSet,
		remaining: o.limit,
	}, nil
}

func (r *FindRows) Next() bool {
	for {
		if r.pos < len(r.buffer) {
			r.current = r.buffer[r.pos]
			r.pos++
			return true
		}
		if r.done {
			return false
		}
		r.fetch()
	}
}

func (r *FindRows) fetch() {
	loopLimit := r.batchSize
	if r.limited && r.remaining < loopLimit {
		loopLimit = r.remaining
	}
	r.request.Limit = loopLimit

	body, err := JSONMarshal(r.request)
	if err != nil {
		r.fail(invalidArgument("encode find request: %s", err))
		return
	}
	data, err := r.db.server.Do(r.ctx, http.MethodPost, r.db.path("_find"), nil, body)
	if err != nil {
		r.fail(err)
		return
	}
	docs, warning, err := parseFindResult(data)
	if err != nil {
		r.fail(err)
		return
	}
	if warning != "" && r.warning == "" {
		r.warning = warning
		if r.warn {
			r.db.Logger().Printf("WARNING: %s - Query: %s", warning, body)
		}
	}

	r.buffer = docs
	r.pos = 0
	if r.limited {
		r.remaining -= len(docs)
	}
	if len(docs) < r.batchSize || (r.limited && r.remaining <= 0) {
		r.done = true
		return
	}
	r.request.Skip += r.batchSize
}

func (r *FindRows) fail(err error) {
	r.err = err
	r.done = true
}

func parseFindResult(data []byte) ([]json.RawMessage, string, error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)
	v, err := parser.ParseBytes(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode find result: %w", err)
	}
	values := v.GetArray("docs")
	docs := make([]json.RawMessage, 0, len(values))
	for _, doc := range values {
		docs = append(docs, rawJSON(doc))
	}
	return docs, string(v.GetStringBytes("warning")), nil
}

// Doc returns the current document as raw JSON.
func (r *FindRows) Doc() json.RawMessage {
	return r.current
}

// Scan decodes the current document into v.
func (r *FindRows) Scan(v interface{}) error {
	return json.Unmarshal(r.current, v)
}

// Warning returns the first warning the store attached to a page.
func (r *FindRows) Warning() string {
	return r.warning
}

func (r *FindRows) Err() error {
	return r.err
}

// FindOne returns the single document matching selector.
func (db *Database) FindOne(ctx context.Context, selector interface{}, opts ...QueryOption) (json.RawMessage, error) {
	opts = append(opts, Skip(0), Limit(2), BatchSize(2))
	rows, err := db.Find(ctx, selector, opts...)
	if err != nil {
		return nil, err
	}
	var result []json.RawMessage
	for rows.Next() {
		result = append(result, rows.Doc())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(result) {
	case 0:
		return nil, ErrDoesNotExist
	case 1:
		return result[0], nil
	default:
		return nil, ErrMultipleObjectsReturned
	}
}
