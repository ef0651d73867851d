package kdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	reduceCount = "_count"
	reduceSum   = "_sum"
	reduceStats = "_stats"
)

// CompiledView is a view ready to be queried.
type CompiledView struct {
	Name   string
	Map    MapFunc
	Reduce string
}

// CompiledDesign holds the views of one design document revision.
type CompiledDesign struct {
	ID       string
	Rev      string
	Language string
	Views    map[string]*CompiledView
}

// CompileDesign validates a design document and compiles its views.
func CompileDesign(reg *mapRegistry, doc *Document) (*CompiledDesign, error) {
	var ddoc DesignDocument
	if err := json.Unmarshal(doc.Data, &ddoc); err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrInvalidDesignDocument)
	}
	design := &CompiledDesign{
		ID:       doc.ID,
		Rev:      doc.Rev(),
		Language: ddoc.Language,
		Views:    make(map[string]*CompiledView, len(ddoc.Views)),
	}
	if design.Language == "" {
		design.Language = "javascript"
	}
	for name, v := range ddoc.Views {
		if v == nil {
			return nil, fmt.Errorf("View %s must be an object: %w", name, ErrInvalidDesignDocument)
		}
		view := &CompiledView{Name: name, Reduce: strings.TrimSpace(v.Reduce)}
		switch view.Reduce {
		case "", reduceCount, reduceSum, reduceStats:
		default:
			return nil, fmt.Errorf("Compilation of the reduce function in the '%s' view failed: only %s, %s and %s are supported: %w",
				name, reduceCount, reduceSum, reduceStats, ErrCompilation)
		}
		switch design.Language {
		case "javascript":
			var source string
			if err := json.Unmarshal(v.Map, &source); err != nil {
				return nil, fmt.Errorf("`map` in %s must be a string: %w", name, ErrInvalidDesignDocument)
			}
			fn, err := reg.Compile(name, source)
			if err != nil {
				return nil, err
			}
			view.Map = fn
		case "query":
			fn, err := compileIndexMap(name, v)
			if err != nil {
				return nil, err
			}
			view.Map = fn
		default:
			return nil, fmt.Errorf("unsupported language %q: %w", design.Language, ErrInvalidDesignDocument)
		}
		design.Views[name] = view
	}
	return design, nil
}

// ViewQuery holds the parsed query string of a view request.
type ViewQuery struct {
	Key           interface{}
	HasKey        bool
	Keys          []interface{}
	HasKeys       bool
	StartKey      interface{}
	HasStartKey   bool
	EndKey        interface{}
	HasEndKey     bool
	StartKeyDocID string
	EndKeyDocID   string
	InclusiveEnd  bool
	Limit         int
	Skip          int
	Descending    bool
	IncludeDocs   bool
	Reduce        *bool
	Group         bool
	GroupLevel    int
}

func decodeJSONParam(name, value string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(value))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("Invalid JSON for %s: %s: %w", name, value, ErrQueryParse)
	}
	return v, nil
}

func parseBoolParam(name, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("Invalid boolean parameter: %s=%q: %w", name, value, ErrQueryParse)
	}
	return b, nil
}

func parseIntParam(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("Invalid value for %s: %q, must be a non-negative integer: %w", name, value, ErrQueryParse)
	}
	return n, nil
}

// ParseViewQuery reads view options from a query string.
func ParseViewQuery(form url.Values) (*ViewQuery, error) {
	q := &ViewQuery{InclusiveEnd: true, Limit: -1}
	var err error
	for name, values := range form {
		if len(values) == 0 {
			continue
		}
		value := values[len(values)-1]
		switch name {
		case "key":
			q.HasKey = true
			q.Key, err = decodeJSONParam(name, value)
		case "keys":
			var v interface{}
			if v, err = decodeJSONParam(name, value); err == nil {
				list, ok := v.([]interface{})
				if !ok {
					err = fmt.Errorf("`keys` must be an array: %w", ErrQueryParse)
				}
				q.Keys, q.HasKeys = list, true
			}
		case "startkey", "start_key":
			q.HasStartKey = true
			q.StartKey, err = decodeJSONParam(name, value)
		case "endkey", "end_key":
			q.HasEndKey = true
			q.EndKey, err = decodeJSONParam(name, value)
		case "startkey_docid", "start_key_doc_id":
			q.StartKeyDocID = value
		case "endkey_docid", "end_key_doc_id":
			q.EndKeyDocID = value
		case "inclusive_end":
			q.InclusiveEnd, err = parseBoolParam(name, value)
		case "limit":
			q.Limit, err = parseIntParam(name, value)
		case "skip":
			q.Skip, err = parseIntParam(name, value)
		case "descending":
			q.Descending, err = parseBoolParam(name, value)
		case "include_docs":
			q.IncludeDocs, err = parseBoolParam(name, value)
		case "reduce":
			var b bool
			b, err = parseBoolParam(name, value)
			q.Reduce = &b
		case "group":
			q.Group, err = parseBoolParam(name, value)
		case "group_level":
			q.GroupLevel, err = parseIntParam(name, value)
		}
		if err != nil {
			return nil, err
		}
	}
	if q.HasKey && q.HasKeys {
		return nil, fmt.Errorf("`keys` is incompatible with `key`: %w", ErrQueryParse)
	}
	if q.HasKey {
		q.StartKey, q.HasStartKey = q.Key, true
		q.EndKey, q.HasEndKey = q.Key, true
	}
	return q, nil
}

type viewRow struct {
	ID    string
	Key   interface{}
	Value interface{}
	doc   *Document
}

type viewRowJSON struct {
	ID    string          `json:"id"`
	Key   interface{}     `json:"key"`
	Value interface{}     `json:"value"`
	Doc   json.RawMessage `json:"doc,omitempty"`
}

type errorRowJSON struct {
	Key   interface{} `json:"key"`
	Error string      `json:"error"`
}

type reducedRowJSON struct {
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
}

type keyCompare func(a, b interface{}) int

// compareDocIDs orders _all_docs keys in raw byte order.
func compareDocIDs(a, b interface{}) int {
	x, ok1 := a.(string)
	y, ok2 := b.(string)
	if ok1 && ok2 {
		return strings.Compare(x, y)
	}
	return CompareKeys(a, b)
}

func decodeDocument(doc *Document) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(doc.JSON()))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// mapDocuments runs fn over docs and returns the emitted rows sorted by key
// then document id.
func mapDocuments(docs []*Document, fn MapFunc) ([]viewRow, error) {
	var rows []viewRow
	for _, doc := range docs {
		if doc.IsDesign() {
			continue
		}
		m, err := decodeDocument(doc)
		if err != nil {
			return nil, err
		}
		d := doc
		fn(m, func(key, value interface{}) {
			rows = append(rows, viewRow{ID: d.ID, Key: normalizeValue(key), Value: normalizeValue(value), doc: d})
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := CompareKeys(rows[i].Key, rows[j].Key)
		if c == 0 {
			return rows[i].ID < rows[j].ID
		}
		return c < 0
	})
	return rows, nil
}

// normalizeValue brings values emitted by Go map functions to the decoded
// JSON representation used for collation.
func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, bool, string, json.Number, float64, []interface{}, map[string]interface{}:
		return v
	case int:
		return json.Number(strconv.Itoa(x))
	case int64:
		return json.Number(strconv.FormatInt(x, 10))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out interface{}
	if dec.Decode(&out) != nil {
		return nil
	}
	return out
}

func allDocsRows(docs []*Document) []viewRow {
	rows := make([]viewRow, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, viewRow{
			ID:    doc.ID,
			Key:   doc.ID,
			Value: map[string]interface{}{"rev": doc.Rev()},
			doc:   doc,
		})
	}
	return rows
}

func compareRow(r viewRow, key interface{}, docID string, cmp keyCompare) int {
	c := cmp(r.Key, key)
	if c == 0 && docID != "" {
		c = strings.Compare(r.ID, docID)
	}
	return c
}

// selectRange returns the rows between the start and end keys in the
// requested direction, and the offset of the first of them.
func selectRange(rows []viewRow, q *ViewQuery, cmp keyCompare) ([]viewRow, int) {
	ordered := rows
	if q.Descending {
		ordered = make([]viewRow, len(rows))
		for i, r := range rows {
			ordered[len(rows)-1-i] = r
		}
	}
	dir := 1
	if q.Descending {
		dir = -1
	}
	offset := -1
	var selected []viewRow
	for i, r := range ordered {
		if q.HasStartKey && dir*compareRow(r, q.StartKey, q.StartKeyDocID, cmp) < 0 {
			continue
		}
		if q.HasEndKey {
			c := dir * compareRow(r, q.EndKey, q.EndKeyDocID, cmp)
			if c > 0 || (c == 0 && !q.InclusiveEnd) {
				break
			}
		}
		if offset < 0 {
			offset = i
		}
		selected = append(selected, r)
	}
	if offset < 0 {
		offset = len(ordered)
	}
	return selected, offset
}

func pageRows(rows []viewRow, skip, limit int) []viewRow {
	if skip >= len(rows) {
		return nil
	}
	rows = rows[skip:]
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func encodeRows(rows []viewRow, includeDocs bool) []interface{} {
	out := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		item := viewRowJSON{ID: r.ID, Key: r.Key, Value: r.Value}
		if includeDocs && r.doc != nil {
			item.Doc = r.doc.JSON()
		}
		out = append(out, item)
	}
	return out
}

// queryMapRows answers a map-only query over sorted rows.
func queryMapRows(rows []viewRow, q *ViewQuery, cmp keyCompare) ([]byte, error) {
	var (
		selected []viewRow
		offset   int
		missing  = map[int]interface{}{}
	)
	if q.HasKeys {
		ordered := rows
		if q.Descending {
			ordered, _ = selectRange(rows, &ViewQuery{Descending: true}, cmp)
		}
		for i, key := range q.Keys {
			found := false
			for _, r := range ordered {
				if cmp(r.Key, key) == 0 {
					selected = append(selected, r)
					found = true
				}
			}
			if !found {
				missing[i] = key
			}
		}
	} else {
		selected, offset = selectRange(rows, q, cmp)
	}
	page := pageRows(selected, q.Skip, q.Limit)
	out := encodeRows(page, q.IncludeDocs)
	if q.HasKeys && q.Skip == 0 && q.Limit < 0 {
		// report keys with no row, in request order
		var merged []interface{}
		next := 0
		for i, key := range q.Keys {
			if _, ok := missing[i]; ok {
				merged = append(merged, errorRowJSON{Key: key, Error: "not_found"})
				continue
			}
			for next < len(out) && cmp(out[next].(viewRowJSON).Key, key) == 0 {
				merged = append(merged, out[next])
				next++
			}
		}
		out = merged
	}
	if out == nil {
		out = []interface{}{}
	}
	return JSONMarshal(struct {
		TotalRows int           `json:"total_rows"`
		Offset    int           `json:"offset"`
		Rows      []interface{} `json:"rows"`
	}{len(rows), offset + q.Skip, out})
}

// queryReduceRows answers a reduce query.
func queryReduceRows(rows []viewRow, view *CompiledView, q *ViewQuery) ([]byte, error) {
	if q.IncludeDocs {
		return nil, fmt.Errorf("`include_docs` is invalid for reduce: %w", ErrQueryParse)
	}
	var selected []viewRow
	if q.HasKeys {
		for _, key := range q.Keys {
			for _, r := range rows {
				if CompareKeys(r.Key, key) == 0 {
					selected = append(selected, r)
				}
			}
		}
	} else {
		selected, _ = selectRange(rows, q, CompareKeys)
	}

	var groups []reducedRowJSON
	if !q.Group && q.GroupLevel == 0 {
		if len(selected) > 0 {
			value, err := reduceValues(view.Reduce, selected)
			if err != nil {
				return nil, err
			}
			groups = append(groups, reducedRowJSON{Key: nil, Value: value})
		}
	} else {
		start := 0
		for start < len(selected) {
			key := groupKey(selected[start].Key, q.GroupLevel)
			end := start + 1
			for end < len(selected) && CompareKeys(groupKey(selected[end].Key, q.GroupLevel), key) == 0 {
				end++
			}
			value, err := reduceValues(view.Reduce, selected[start:end])
			if err != nil {
				return nil, err
			}
			groups = append(groups, reducedRowJSON{Key: key, Value: value})
			start = end
		}
	}

	if q.Skip < len(groups) {
		groups = groups[q.Skip:]
	} else {
		groups = nil
	}
	if q.Limit >= 0 && q.Limit < len(groups) {
		groups = groups[:q.Limit]
	}
	if groups == nil {
		groups = []reducedRowJSON{}
	}
	return JSONMarshal(struct {
		Rows []reducedRowJSON `json:"rows"`
	}{groups})
}

func groupKey(key interface{}, level int) interface{} {
	list, ok := key.([]interface{})
	if level <= 0 || !ok || len(list) <= level {
		return key
	}
	return list[:level]
}

func reduceValues(reduce string, rows []viewRow) (interface{}, error) {
	switch reduce {
	case reduceCount:
		return json.Number(strconv.Itoa(len(rows))), nil
	case reduceSum:
		sum := 0.0
		for _, r := range rows {
			n, ok := toNumber(r.Value)
			if !ok {
				return nil, fmt.Errorf("the _sum function requires that map values be numbers, got %v: %w", r.Value, ErrBadRequest)
			}
			sum += n
		}
		return formatNumber(sum), nil
	case reduceStats:
		var sum, sumsqr float64
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, r := range rows {
			n, ok := toNumber(r.Value)
			if !ok {
				return nil, fmt.Errorf("the _stats function requires that map values be numbers, got %v: %w", r.Value, ErrBadRequest)
			}
			sum += n
			sumsqr += n * n
			lo = math.Min(lo, n)
			hi = math.Max(hi, n)
		}
		return map[string]interface{}{
			"sum":    formatNumber(sum),
			"count":  len(rows),
			"min":    formatNumber(lo),
			"max":    formatNumber(hi),
			"sumsqr": formatNumber(sumsqr),
		}, nil
	}
	return nil, fmt.Errorf("unsupported reduce %q: %w", reduce, ErrCompilation)
}

func formatNumber(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}
