package kcouch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// SaveResult reports what Save did.
type SaveResult int

const (
	// Saved means a new revision was written.
	Saved SaveResult = iota + 1
	// Unchanged means the stored copy already matched and nothing was written.
	Unchanged
)

func (r SaveResult) String() string {
	switch r {
	case Saved:
		return "saved"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

type SaveOptions struct {
	// OverrideConflict re-reads the current revision after a conflict and
	// retries the write once.
	OverrideConflict bool
	// OnlyIfChanged skips the write when the stored copy is structurally
	// equal to the document, ignoring _rev.
	OnlyIfChanged bool
}

// Get reads id and decodes it through schema, which may be nil.
func (db *Database) Get(ctx context.Context, id string, schema *Schema) (*Document, error) {
	data, err := db.GetRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	return ParseDocument(data, schema)
}

// Save writes doc and sets its ID and Rev from the store's answer.
func (db *Database) Save(ctx context.Context, doc *Document, opts SaveOptions) (SaveResult, error) {
	body, err := doc.MarshalJSON()
	if err != nil {
		return 0, err
	}

	if opts.OnlyIfChanged && doc.ID != "" {
		stored, err := db.GetRaw(ctx, doc.ID)
		switch {
		case err == nil:
			same, rev, err := sameContent(body, stored)
			if err != nil {
				return 0, err
			}
			if same {
				doc.Rev = rev
				return Unchanged, nil
			}
		case errors.Is(err, ErrNotFound):
		default:
			return 0, err
		}
	}

	return db.write(ctx, doc, body, opts.OverrideConflict)
}

func (db *Database) write(ctx context.Context, doc *Document, body []byte, retry bool) (SaveResult, error) {
	var (
		result WriteResult
		err    error
	)
	if doc.ID != "" {
		result, err = db.PutRaw(ctx, doc.ID, body)
	} else {
		result, err = db.PostRaw(ctx, body)
	}

	if errors.Is(err, ErrConflict) {
		if !retry || doc.ID == "" {
			return 0, fmt.Errorf("%w: %w", ErrRevisionMismatch, err)
		}
		rev, err := db.currentRev(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		db.Logger().Printf("conflict on %s/%s, retrying with revision %q", db.Name, doc.ID, rev)
		doc.Rev = rev
		if body, err = doc.MarshalJSON(); err != nil {
			return 0, err
		}
		return db.write(ctx, doc, body, false)
	}
	if err != nil {
		return 0, err
	}

	doc.ID = result.ID
	doc.Rev = result.Rev
	return Saved, nil
}

func (db *Database) currentRev(ctx context.Context, id string) (string, error) {
	data, err := db.GetRaw(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	parser := parserPool.Get()
	defer parserPool.Put(parser)
	v, err := parser.ParseBytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", id, err)
	}
	return string(v.GetStringBytes("_rev")), nil
}

// sameContent compares a pending body with the stored copy. Revisions and
// reserved keys are ignored on both sides. It returns the stored revision.
func sameContent(body, stored []byte) (bool, string, error) {
	var pending, current map[string]interface{}
	if err := json.Unmarshal(body, &pending); err != nil {
		return false, "", err
	}
	if err := json.Unmarshal(stored, &current); err != nil {
		return false, "", err
	}
	rev, _ := current["_rev"].(string)
	return reflect.DeepEqual(withoutReserved(pending), withoutReserved(current)), rev, nil
}

func withoutReserved(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "_") && k != "_id" {
			continue
		}
		out[k] = v
	}
	return out
}

// Delete removes revision rev of id. A missing document is an error.
func (db *Database) Delete(ctx context.Context, id, rev string) error {
	_, err := db.DeleteRaw(ctx, id, rev)
	return err
}
