package kdb

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// MessageNoMatchingIndex is the _find warning for queries that no json
// index covers.
const MessageNoMatchingIndex = "No matching index found, create an index to optimize query time."

const defaultFindLimit = 25

type matcher func(doc map[string]interface{}) bool

func lookupField(doc map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if current, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

// compileSelector turns a Mango selector into a matcher.
func compileSelector(selector map[string]interface{}) (matcher, error) {
	return compileFields("", selector)
}

func compileFields(prefix string, selector map[string]interface{}) (matcher, error) {
	var matchers []matcher
	for key, arg := range selector {
		var (
			m   matcher
			err error
		)
		switch key {
		case "$and", "$or", "$nor":
			m, err = compileCombination(prefix, key, arg)
		case "$not":
			sub, ok := arg.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("$not argument must be an object: %w", ErrInvalidOperator)
			}
			var inner matcher
			if inner, err = compileFields(prefix, sub); err == nil {
				m = func(doc map[string]interface{}) bool { return !inner(doc) }
			}
		default:
			if strings.HasPrefix(key, "$") {
				if prefix == "" {
					return nil, fmt.Errorf("Invalid operator: %s: %w", key, ErrInvalidOperator)
				}
				m, err = compileOperator(prefix, key, arg)
				break
			}
			field := key
			if prefix != "" {
				field = prefix + "." + key
			}
			m, err = compileField(field, arg)
		}
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return func(doc map[string]interface{}) bool {
		for _, m := range matchers {
			if !m(doc) {
				return false
			}
		}
		return true
	}, nil
}

func compileCombination(prefix, op string, arg interface{}) (matcher, error) {
	list, ok := arg.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s argument must be an array: %w", op, ErrInvalidOperator)
	}
	var subs []matcher
	for _, item := range list {
		sel, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s items must be objects: %w", op, ErrInvalidOperator)
		}
		m, err := compileFields(prefix, sel)
		if err != nil {
			return nil, err
		}
		subs = append(subs, m)
	}
	return func(doc map[string]interface{}) bool {
		switch op {
		case "$and":
			for _, m := range subs {
				if !m(doc) {
					return false
				}
			}
			return true
		case "$or":
			for _, m := range subs {
				if m(doc) {
					return true
				}
			}
			return false
		}
		for _, m := range subs {
			if m(doc) {
				return false
			}
		}
		return true
	}, nil
}

func compileField(field string, arg interface{}) (matcher, error) {
	obj, ok := arg.(map[string]interface{})
	if !ok || len(obj) == 0 {
		return compileOperator(field, "$eq", arg)
	}
	return compileFields(field, obj)
}

func compileOperator(field, op string, arg interface{}) (matcher, error) {
	var test func(v interface{}) bool
	switch op {
	case "$eq":
		test = func(v interface{}) bool { return CompareKeys(v, arg) == 0 }
	case "$ne":
		test = func(v interface{}) bool { return CompareKeys(v, arg) != 0 }
	case "$gt":
		test = func(v interface{}) bool { return CompareKeys(v, arg) > 0 }
	case "$gte":
		test = func(v interface{}) bool { return CompareKeys(v, arg) >= 0 }
	case "$lt":
		test = func(v interface{}) bool { return CompareKeys(v, arg) < 0 }
	case "$lte":
		test = func(v interface{}) bool { return CompareKeys(v, arg) <= 0 }
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return nil, fmt.Errorf("$exists argument must be a boolean: %w", ErrInvalidOperator)
		}
		return func(doc map[string]interface{}) bool {
			_, found := lookupField(doc, field)
			return found == want
		}, nil
	case "$in", "$nin":
		list, ok := arg.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%s argument must be an array: %w", op, ErrInvalidOperator)
		}
		contains := func(v interface{}) bool {
			values := []interface{}{v}
			if arr, ok := v.([]interface{}); ok {
				values = arr
			}
			for _, value := range values {
				for _, item := range list {
					if CompareKeys(value, item) == 0 {
						return true
					}
				}
			}
			return false
		}
		if op == "$in" {
			test = contains
		} else {
			test = func(v interface{}) bool { return !contains(v) }
		}
	case "$size":
		n, ok := toNumber(arg)
		if !ok {
			return nil, fmt.Errorf("$size argument must be an integer: %w", ErrInvalidOperator)
		}
		test = func(v interface{}) bool {
			arr, ok := v.([]interface{})
			return ok && float64(len(arr)) == n
		}
	case "$type":
		want, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("$type argument must be a string: %w", ErrInvalidOperator)
		}
		test = func(v interface{}) bool { return jsonType(v) == want }
	default:
		return nil, fmt.Errorf("Invalid operator: %s: %w", op, ErrInvalidOperator)
	}
	return func(doc map[string]interface{}) bool {
		v, found := lookupField(doc, field)
		return found && test(v)
	}, nil
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	return ""
}

// selectorFields lists the fields a selector constrains outside of $or,
// $nor and $not branches.
func selectorFields(prefix string, selector map[string]interface{}, fields map[string]bool) {
	for key, arg := range selector {
		switch {
		case key == "$and":
			list, _ := arg.([]interface{})
			for _, item := range list {
				if sel, ok := item.(map[string]interface{}); ok {
					selectorFields(prefix, sel, fields)
				}
			}
		case strings.HasPrefix(key, "$"):
			continue
		default:
			field := key
			if prefix != "" {
				field = prefix + "." + key
			}
			if obj, ok := arg.(map[string]interface{}); ok && !hasOperator(obj) && len(obj) > 0 {
				selectorFields(field, obj, fields)
				continue
			}
			fields[field] = true
		}
	}
}

func hasOperator(obj map[string]interface{}) bool {
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

type sortField struct {
	Name       string
	Descending bool
}

func parseSort(list []interface{}) ([]sortField, error) {
	var fields []sortField
	for _, item := range list {
		switch x := item.(type) {
		case string:
			fields = append(fields, sortField{Name: x})
		case map[string]interface{}:
			if len(x) != 1 {
				return nil, fmt.Errorf("Each sort item must be a field name or a single {field: direction} object: %w", ErrBadRequest)
			}
			for name, dir := range x {
				switch dir {
				case "asc":
					fields = append(fields, sortField{Name: name})
				case "desc":
					fields = append(fields, sortField{Name: name, Descending: true})
				default:
					return nil, fmt.Errorf("Invalid sort direction: %v: %w", dir, ErrBadRequest)
				}
			}
		default:
			return nil, fmt.Errorf("Invalid sort field: %v: %w", item, ErrBadRequest)
		}
	}
	return fields, nil
}

func projectFields(doc map[string]interface{}, fields []string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		v, ok := lookupField(doc, field)
		if !ok {
			continue
		}
		parts := strings.Split(field, ".")
		target := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := target[part].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				target[part] = next
			}
			target = next
		}
		target[parts[len(parts)-1]] = v
	}
	return out
}

// useIndexName reads use_index, which is "ddoc" or ["ddoc", "name"].
func useIndexName(v interface{}) (string, string) {
	switch x := v.(type) {
	case string:
		return strings.TrimPrefix(x, designPrefix), ""
	case []interface{}:
		var ddoc, name string
		if len(x) > 0 {
			ddoc, _ = x[0].(string)
		}
		if len(x) > 1 {
			name, _ = x[1].(string)
		}
		return strings.TrimPrefix(ddoc, designPrefix), name
	}
	return "", ""
}

// findWarning decides the warning of a query given the json indexes of the
// database.
func findWarning(req *FindRequest, indexes []jsonIndex) string {
	fields := make(map[string]bool)
	selectorFields("", req.Selector, fields)

	covers := func(index jsonIndex) bool {
		if len(index.Fields) == 0 {
			return false
		}
		for _, f := range index.Fields {
			if !fields[f] {
				return false
			}
		}
		return true
	}

	if req.UseIndex != nil {
		ddoc, name := useIndexName(req.UseIndex)
		for _, index := range indexes {
			if strings.TrimPrefix(index.DesignDoc, designPrefix) == ddoc && (name == "" || index.Name == name) && covers(index) {
				return ""
			}
		}
		label := designPrefix + ddoc
		if name != "" {
			label += ", " + name
		}
		return label + " was not used because it does not contain a valid index for this query."
	}

	for _, index := range indexes {
		if covers(index) {
			return ""
		}
	}
	return MessageNoMatchingIndex
}

// Find answers a Mango query. Matching documents are ordered by the sort
// fields, then by id.
func (db *Database) Find(body []byte) ([]byte, error) {
	if err := ValidateFindRequest(body); err != nil {
		return nil, err
	}
	req := &FindRequest{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(req); err != nil {
		return nil, fmt.Errorf("%s: %w", MessageBadJSON, ErrBadJSON)
	}
	match, err := compileSelector(req.Selector)
	if err != nil {
		return nil, err
	}
	sortFields, err := parseSort(req.Sort)
	if err != nil {
		return nil, err
	}
	limit := defaultFindLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 0 || req.Skip < 0 {
		return nil, fmt.Errorf("limit and skip must be non-negative: %w", ErrBadRequest)
	}

	docs, err := db.allDocuments()
	if err != nil {
		return nil, err
	}
	indexes, err := db.jsonIndexes()
	if err != nil {
		return nil, err
	}

	type hit struct {
		id  string
		doc map[string]interface{}
	}
	var hits []hit
	for _, doc := range docs {
		if doc.IsDesign() {
			continue
		}
		m, err := decodeDocument(doc)
		if err != nil {
			return nil, err
		}
		if match(m) {
			hits = append(hits, hit{doc.ID, m})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		for _, f := range sortFields {
			a, _ := lookupField(hits[i].doc, f.Name)
			b, _ := lookupField(hits[j].doc, f.Name)
			c := CompareKeys(a, b)
			if f.Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return hits[i].id < hits[j].id
	})

	if req.Skip < len(hits) {
		hits = hits[req.Skip:]
	} else {
		hits = nil
	}
	if limit < len(hits) {
		hits = hits[:limit]
	}

	resp := findResponse{Docs: make([]json.RawMessage, 0, len(hits)), Bookmark: "nil"}
	for _, h := range hits {
		doc := h.doc
		if len(req.Fields) > 0 {
			doc = projectFields(doc, req.Fields)
		}
		data, err := JSONMarshal(doc)
		if err != nil {
			return nil, err
		}
		resp.Docs = append(resp.Docs, data)
	}
	if len(hits) > 0 {
		resp.Bookmark = bookmark(hits[len(hits)-1].id)
	}
	resp.Warning = findWarning(req, indexes)
	return JSONMarshal(resp)
}

func bookmark(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}
