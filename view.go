package kcouch

import (
	"context"
	"encoding/json"
)

const (
	// DefaultBatchSize is the page size used when BatchSize is not given.
	DefaultBatchSize = 100
	// DefaultView is the view name design documents commonly expose.
	DefaultView = "view"
)

// Row is one entry of a view result. Key, Value and Doc hold raw JSON.
type Row struct {
	ID    string
	Key   json.RawMessage
	Value json.RawMessage
	Doc   json.RawMessage
}

func (r Row) ScanKey(v interface{}) error {
	return json.Unmarshal(r.Key, v)
}

func (r Row) ScanValue(v interface{}) error {
	return json.Unmarshal(r.Value, v)
}

// ScanDoc decodes the included document. It fails with ErrNotFound when the
// query did not ask for documents.
func (r Row) ScanDoc(v interface{}) error {
	if len(r.Doc) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(r.Doc, v)
}

type queryOptions struct {
	batchSize int
	limit     int
	limitSet  bool
	skip      int
	params    map[string]interface{}

	warn     bool
	fields   []string
	sort     []interface{}
	useIndex interface{}
}

// QueryOption configures a view or find query.
type QueryOption func(*queryOptions)

func newQueryOptions(opts []QueryOption) (*queryOptions, error) {
	o := &queryOptions{
		batchSize: DefaultBatchSize,
		params:    map[string]interface{}{},
		warn:      true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.batchSize < 1 {
		return nil, invalidArgument("batch size must be greater than 0")
	}
	if o.limitSet && o.limit < 1 {
		return nil, invalidArgument("limit must be greater than 0")
	}
	if o.skip < 0 {
		return nil, invalidArgument("skip must not be negative")
	}
	return o, nil
}

// BatchSize sets how many rows are fetched per request.
func BatchSize(n int) QueryOption {
	return func(o *queryOptions) { o.batchSize = n }
}

// Limit caps the total number of rows produced across all pages.
func Limit(n int) QueryOption {
	return func(o *queryOptions) {
		o.limit = n
		o.limitSet = true
	}
}

func Skip(n int) QueryOption {
	return func(o *queryOptions) { o.skip = n }
}

// Key restricts a view to rows emitted with key. It is sent as an inclusive
// startkey/endkey range so that paging can move the start of the range.
func Key(key interface{}) QueryOption {
	return func(o *queryOptions) {
		o.params["startkey"] = key
		o.params["endkey"] = key
	}
}

func StartKey(key interface{}) QueryOption {
	return Param("startkey", key)
}

func EndKey(key interface{}) QueryOption {
	return Param("endkey", key)
}

func StartKeyDocID(id string) QueryOption {
	return Param("startkey_docid", id)
}

func EndKeyDocID(id string) QueryOption {
	return Param("endkey_docid", id)
}

func IncludeDocs() QueryOption {
	return Param("include_docs", true)
}

func Descending() QueryOption {
	return Param("descending", true)
}

// Param passes an arbitrary query parameter. Key-like parameters are JSON
// encoded, everything else is sent as is.
func Param(name string, value interface{}) QueryOption {
	return func(o *queryOptions) { o.params[name] = value }
}

// ViewRows iterates a view lazily, one page per request. Each page asks
// for one extra row whose key and id become the start of the next page, so
// the walk is stable regardless of batch size.
type ViewRows struct {
	ctx    context.Context
	db     *Database
	design string
	view   string
	params map[string]interface{}

	batchSize int
	limited   bool
	remaining int

	buffer  []Row
	pos     int
	current Row
	done    bool
	err     error
}

// View returns an iterator over design/view. Invalid options fail before any
// request is made.
func (db *Database) View(ctx context.Context, design, view string, opts ...QueryOption) (*ViewRows, error) {
	o, err := newQueryOptions(opts)
	if err != nil {
		return nil, err
	}
	if design == "" {
		return nil, invalidArgument("design document name is required")
	}
	if view == "" {
		view = DefaultView
	}
	return newViewRows(ctx, db, design, view, o), nil
}

// AllDocs iterates the built-in _all_docs view.
func (db *Database) AllDocs(ctx context.Context, opts ...QueryOption) (*ViewRows, error) {
	o, err := newQueryOptions(opts)
	if err != nil {
		return nil, err
	}
	return newViewRows(ctx, db, "", "_all_docs", o), nil
}

func newViewRows(ctx context.Context, db *Database, design, view string, o *queryOptions) *ViewRows {
	params := make(map[string]interface{}, len(o.params)+2)
	for k, v := range o.params {
		params[k] = v
	}
	if o.skip > 0 {
		params["skip"] = o.skip
	}
	return &ViewRows{
		ctx:       ctx,
		db:        db,
		design:    design,
		view:      view,
		params:    params,
		batchSize: o.batchSize,
		limited:   o.limitSet,
		remaining: o.limit,
	}
}

// Next advances to the next row, fetching a page when the buffer is empty.
func (r *ViewRows) Next() bool {
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

func (r *ViewRows) fetch() {
	loopLimit := r.batchSize
	if r.limited && r.remaining < loopLimit {
		loopLimit = r.remaining
	}
	r.params["limit"] = loopLimit + 1

	rows, err := r.db.RawView(r.ctx, r.design, r.view, r.params)
	if err != nil {
		r.err = err
		r.done = true
		return
	}

	page := rows
	if len(page) > loopLimit {
		page = page[:loopLimit]
	}
	r.buffer = page
	r.pos = 0
	if r.limited {
		r.remaining -= len(page)
	}

	if len(rows) <= loopLimit || (r.limited && r.remaining <= 0) {
		r.done = true
		return
	}

	next := rows[loopLimit]
	r.params["startkey"] = next.Key
	r.params["startkey_docid"] = next.ID
	delete(r.params, "skip")
}

// Row returns the current row.
func (r *ViewRows) Row() Row {
	return r.current
}

// Err returns the error that stopped the iteration, if any.
func (r *ViewRows) Err() error {
	return r.err
}

// ViewOne returns the single row of design/view emitted with key.
func (db *Database) ViewOne(ctx context.Context, design, view string, key interface{}, opts ...QueryOption) (Row, error) {
	opts = append(opts, Limit(2), Key(key))
	rows, err := db.View(ctx, design, view, opts...)
	if err != nil {
		return Row{}, err
	}
	var result []Row
	for rows.Next() {
		result = append(result, rows.Row())
	}
	if err := rows.Err(); err != nil {
		return Row{}, err
	}
	switch len(result) {
	case 0:
		return Row{}, ErrDoesNotExist
	case 1:
		return result[0], nil
	default:
		return Row{}, ErrMultipleObjectsReturned
	}
}
