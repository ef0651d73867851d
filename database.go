package kcouch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

var parserPool fastjson.ParserPool

const designPrefix = "_design/"

// Database is a handle on one database of a Server. Handles are cheap and
// hold no connection state.
type Database struct {
	Name string

	server *Server
}

// WriteResult is the acknowledgement of a document write.
type WriteResult struct {
	ID  string
	Rev string
}

// DesignDocumentInfo identifies a stored design document.
type DesignDocumentInfo struct {
	ID  string
	Rev string
}

// Name of the design document without its _design/ prefix.
func (info DesignDocumentInfo) Name() string {
	return strings.TrimPrefix(info.ID, designPrefix)
}

func (db *Database) Server() *Server {
	return db.server
}

func (db *Database) Logger() *log.Logger {
	return db.server.logger
}

func (db *Database) path(parts ...string) string {
	p := db.server.databasePath(db.Name)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func documentPath(id string) string {
	if strings.HasPrefix(id, designPrefix) {
		return designPrefix + url.PathEscape(strings.TrimPrefix(id, designPrefix))
	}
	return url.PathEscape(id)
}

// GetRaw returns the stored JSON of id.
func (db *Database) GetRaw(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, invalidArgument("document id is required")
	}
	return db.server.Do(ctx, http.MethodGet, db.path(documentPath(id)), nil, nil)
}

// PutRaw stores body under id. body must carry the current _rev when the
// document already exists.
func (db *Database) PutRaw(ctx context.Context, id string, body interface{}) (WriteResult, error) {
	if id == "" {
		return WriteResult{}, invalidArgument("document id is required")
	}
	data, err := db.server.Do(ctx, http.MethodPut, db.path(documentPath(id)), nil, body)
	if err != nil {
		return WriteResult{}, err
	}
	return parseWriteResult(data)
}

// PostRaw stores body under an id chosen by the store unless body has one.
func (db *Database) PostRaw(ctx context.Context, body interface{}) (WriteResult, error) {
	data, err := db.server.Do(ctx, http.MethodPost, db.path(), nil, body)
	if err != nil {
		return WriteResult{}, err
	}
	return parseWriteResult(data)
}

// DeleteRaw deletes revision rev of id.
func (db *Database) DeleteRaw(ctx context.Context, id, rev string) (WriteResult, error) {
	if id == "" {
		return WriteResult{}, invalidArgument("document id is required")
	}
	query := url.Values{}
	if rev != "" {
		query.Set("rev", rev)
	}
	data, err := db.server.Do(ctx, http.MethodDelete, db.path(documentPath(id)), query, nil)
	if err != nil {
		return WriteResult{}, err
	}
	return parseWriteResult(data)
}

func parseWriteResult(data []byte) (WriteResult, error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)
	v, err := parser.ParseBytes(data)
	if err != nil {
		return WriteResult{}, fmt.Errorf("decode write result: %w", err)
	}
	return WriteResult{
		ID:  string(v.GetStringBytes("id")),
		Rev: string(v.GetStringBytes("rev")),
	}, nil
}

// ListDesignDocuments returns every design document of the database. The
// listing is paged through _all_docs like any other view.
func (db *Database) ListDesignDocuments(ctx context.Context, opts ...QueryOption) ([]DesignDocumentInfo, error) {
	opts = append(opts, StartKey("_design"), EndKey("_design0"))
	rows, err := db.AllDocs(ctx, opts...)
	if err != nil {
		return nil, err
	}
	var infos []DesignDocumentInfo
	for rows.Next() {
		row := rows.Row()
		info := DesignDocumentInfo{ID: row.ID}
		var value struct {
			Rev string `json:"rev"`
		}
		if err := row.ScanValue(&value); err == nil {
			info.Rev = value.Rev
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

var jsonParams = map[string]bool{
	"key":       true,
	"keys":      true,
	"startkey":  true,
	"endkey":    true,
	"start_key": true,
	"end_key":   true,
}

func encodeParams(params map[string]interface{}) (url.Values, error) {
	query := url.Values{}
	for name, value := range params {
		if jsonParams[name] {
			data, err := JSONMarshal(value)
			if err != nil {
				return nil, invalidArgument("encode %s: %s", name, err)
			}
			query.Set(name, string(data))
			continue
		}
		switch v := value.(type) {
		case string:
			query.Set(name, v)
		case bool:
			query.Set(name, strconv.FormatBool(v))
		case int:
			query.Set(name, strconv.Itoa(v))
		case json.RawMessage:
			query.Set(name, string(v))
		default:
			data, err := JSONMarshal(v)
			if err != nil {
				return nil, invalidArgument("encode %s: %s", name, err)
			}
			query.Set(name, string(data))
		}
	}
	return query, nil
}

func viewPath(design, view string) []string {
	if design == "" {
		return []string{view}
	}
	return []string{"_design", url.PathEscape(design), "_view", url.PathEscape(view)}
}

// RawView performs a single view request and returns its rows. An empty
// design addresses a built-in view such as _all_docs.
func (db *Database) RawView(ctx context.Context, design, view string, params map[string]interface{}) ([]Row, error) {
	query, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	data, err := db.server.Do(ctx, http.MethodGet, db.path(viewPath(design, view)...), query, nil)
	if err != nil {
		return nil, err
	}
	return parseRows(data)
}

func parseRows(data []byte) ([]Row, error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)
	v, err := parser.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode view result: %w", err)
	}
	values := v.GetArray("rows")
	rows := make([]Row, 0, len(values))
	for _, item := range values {
		if item.Exists("error") {
			continue
		}
		row := Row{
			ID:    string(item.GetStringBytes("id")),
			Key:   rawJSON(item.Get("key")),
			Value: rawJSON(item.Get("value")),
		}
		if doc := item.Get("doc"); doc != nil && doc.Type() != fastjson.TypeNull {
			row.Doc = rawJSON(doc)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rawJSON(v *fastjson.Value) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(v.MarshalTo(nil))
}
