package kdb

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func openTestWriter(t *testing.T) DatabaseWriter {
	t.Helper()
	writer := NewServiceLocator().GetDatabaseWriter("")
	if err := writer.Open(true); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { writer.Close() })
	return writer
}

func TestWriterPutAndRead(t *testing.T) {
	writer := openTestWriter(t)
	reader := writer.Reader()

	num, seq, err := reader.GetLastUpdateSequence()
	assert.Equal(t, err, nil)
	assert.Equal(t, num, 0)
	assert.Equal(t, seq, "")

	docs := []*Document{
		{ID: "b", Version: 1, Hash: "h1", Data: []byte(`{"n":1}`)},
		{ID: "_design/x", Version: 1, Hash: "h2", Data: []byte(`{"views":{}}`)},
		{ID: "a", Version: 2, Hash: "h3", Deleted: true, Data: []byte(`{}`)},
	}
	for i, doc := range docs {
		if err := writer.Begin(); err != nil {
			t.Fatal(err)
		}
		if err := writer.PutDocument(string(rune('a'+i)), doc); err != nil {
			t.Fatal(err)
		}
		if err := writer.Commit(); err != nil {
			t.Fatal(err)
		}
	}

	doc, err := reader.GetDocumentByID("b")
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.Rev(), "1-h1")
	assert.Equal(t, string(doc.Data), `{"n":1}`)

	doc, err = reader.GetDocumentByID("a")
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.Deleted, true)

	_, err = reader.GetDocumentByID("zz")
	assert.Equal(t, errors.Is(err, ErrDocumentNotFound), true)

	all, err := reader.GetAllDocuments()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(all), 2)
	assert.Equal(t, all[0].ID, "_design/x")
	assert.Equal(t, all[1].ID, "b")

	designs, err := reader.GetAllDesignDocuments()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(designs), 1)

	live, deleted, err := reader.GetDocumentCount()
	assert.Equal(t, err, nil)
	assert.Equal(t, live, 2)
	assert.Equal(t, deleted, 1)

	num, seq, err = reader.GetLastUpdateSequence()
	assert.Equal(t, err, nil)
	assert.Equal(t, num, 3)
	assert.Equal(t, seq, "c")

	assert.Equal(t, writer.Vacuum(), nil)
}

func TestWriterRollback(t *testing.T) {
	writer := openTestWriter(t)
	if err := writer.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := writer.PutDocument("a", &Document{ID: "x", Version: 1, Hash: "h", Data: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if err := writer.Rollback(); err != nil {
		t.Fatal(err)
	}
	_, err := writer.Reader().GetDocumentByID("x")
	assert.Equal(t, errors.Is(err, ErrDocumentNotFound), true)
}

func TestLocalDBCatalog(t *testing.T) {
	local := &LocalDB{}
	if err := local.Open(""); err != nil {
		t.Fatal(err)
	}
	defer local.Close()

	assert.Equal(t, local.Create("b", "b.db"), nil)
	assert.Equal(t, local.Create("a", "a.db"), nil)
	assert.Equal(t, errors.Is(local.Create("a", "other.db"), ErrDatabaseExists), true)
	assert.Equal(t, errors.Is(local.Create("c", "a.db"), ErrDatabaseExists), true)

	list, err := local.List()
	assert.Equal(t, err, nil)
	assert.Equal(t, list, []string{"a", "b"})

	fileName, err := local.GetFileName("b")
	assert.Equal(t, err, nil)
	assert.Equal(t, fileName, "b.db")

	assert.Equal(t, local.Delete("b"), nil)
	_, err = local.GetFileName("b")
	assert.Equal(t, errors.Is(err, ErrDatabaseNotFound), true)

	_, ok, err := local.GetSetting("cluster_finished")
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)
	assert.Equal(t, local.PutSetting("cluster_finished", "true"), nil)
	value, ok, err := local.GetSetting("cluster_finished")
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, value, "true")
}
