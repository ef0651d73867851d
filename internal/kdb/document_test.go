package kdb

import (
	"errors"
	"testing"
)

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"_id":"a","_rev":"1-abc","x":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "a" || doc.Version != 1 || doc.Hash != "abc" {
		t.Errorf("unexpected metadata %s %d %s", doc.ID, doc.Version, doc.Hash)
	}
	if string(doc.Data) != `{"x":1}` {
		t.Errorf("expected reserved members stripped, got %s", doc.Data)
	}
}

func TestParseDocumentDeleted(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"_id":"a","_rev":"2-abc","_deleted":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Deleted {
		t.Errorf("expected deleted document")
	}
}

func TestParseDocumentRejectsSpecialMembers(t *testing.T) {
	_, err := ParseDocument([]byte(`{"_id":"a","_attachments":{}}`))
	if !errors.Is(err, ErrDocumentInvalidInput) {
		t.Errorf("expected doc_validation, got %v", err)
	}
}

func TestParseDocumentBadInput(t *testing.T) {
	if _, err := ParseDocument([]byte(`{"_id":`)); !errors.Is(err, ErrBadJSON) {
		t.Errorf("expected bad json, got %v", err)
	}
	if _, err := ParseDocument([]byte(`[1,2]`)); !errors.Is(err, ErrBadJSON) {
		t.Errorf("expected bad json for array body, got %v", err)
	}
	if _, err := ParseDocument([]byte(`{"_id":1}`)); !errors.Is(err, ErrDocumentInvalidID) {
		t.Errorf("expected illegal_docid, got %v", err)
	}
	if doc, err := ParseDocument([]byte(`{"_rev":"1-a"}`)); err != nil || doc.ID != "" || doc.Version != 1 {
		t.Errorf("expected the id to be left to the caller, got %v %v", doc, err)
	}
	if _, err := ParseDocument([]byte(`{"_id":"a","_rev":"x"}`)); !errors.Is(err, ErrBadRequest) {
		t.Errorf("expected invalid rev to fail, got %v", err)
	}
}

func TestCalculateNextVersion(t *testing.T) {
	a := &Document{ID: "a", Data: []byte(`{"x":1}`)}
	b := &Document{ID: "a", Data: []byte(`{"x":1}`)}
	a.CalculateNextVersion()
	b.CalculateNextVersion()
	if a.Rev() != b.Rev() || a.Version != 1 {
		t.Errorf("expected deterministic first revision, got %s and %s", a.Rev(), b.Rev())
	}

	a.CalculateNextVersion()
	if a.Version != 2 || a.Hash == b.Hash {
		t.Errorf("expected a new hash for the second revision, got %s", a.Rev())
	}

	c := &Document{ID: "a", Data: []byte(`{"x":1}`), Deleted: true}
	c.CalculateNextVersion()
	if c.Hash == b.Hash {
		t.Errorf("expected a deleted revision to differ")
	}
}

func TestDocumentJSON(t *testing.T) {
	doc := &Document{ID: "a", Version: 1, Hash: "h", Data: []byte(`{"x":1}`)}
	if got := string(doc.JSON()); got != `{"_id":"a","_rev":"1-h","x":1}` {
		t.Errorf("unexpected json %s", got)
	}
	doc.Data = []byte(`{}`)
	if got := string(doc.JSON()); got != `{"_id":"a","_rev":"1-h"}` {
		t.Errorf("unexpected json %s", got)
	}
}
