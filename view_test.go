package kcouch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/kirubasankars/kcouch/internal/kdb"
)

const itemCount = 25

func seedItems(t *testing.T, db *Database) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < itemCount; i++ {
		doc := NewDocument(fmt.Sprintf("item-%02d", i), map[string]interface{}{
			"type":  "item",
			"group": i % 7,
			"name":  fmt.Sprintf("name-%02d", i),
		})
		if _, err := db.Save(ctx, doc, SaveOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	design := DesignSpec{Views: map[string]ViewSpec{
		"by_group": {Map: `function(doc) { if (doc.type === "item") { emit(doc.group, doc.name); } }`},
		"by_name":  {Map: `function(doc) { if (doc.name) emit(doc.name, null); }`, Reduce: "_count"},
	}}
	if _, _, err := db.SaveDesign(ctx, "items", design, "", false); err != nil {
		t.Fatal(err)
	}
}

func collectIDs(t *testing.T, rows *ViewRows) []string {
	t.Helper()
	var ids []string
	for rows.Next() {
		ids = append(ids, rows.Row().ID)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestViewBatchSizeDoesNotChangeRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	for _, opts := range [][]QueryOption{nil, {Descending()}, {Key(3)}, {StartKey(2), EndKey(4)}, {Skip(4)}} {
		rows, err := db.View(ctx, "items", "by_group", append(opts, BatchSize(1000))...)
		assert.Equal(t, err, nil)
		expected := collectIDs(t, rows)
		if len(expected) == 0 {
			t.Fatalf("expected rows for %d options", len(opts))
		}

		for _, size := range []int{1, 2, 3, 6, 7, 24, 25, 26} {
			rows, err := db.View(ctx, "items", "by_group", append(opts, BatchSize(size))...)
			assert.Equal(t, err, nil)
			assert.Equal(t, collectIDs(t, rows), expected)
		}
	}
}

func TestViewRowsAreOrderedByKeyThenID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	rows, err := db.View(ctx, "items", "by_group", BatchSize(4))
	assert.Equal(t, err, nil)
	var ids []string
	lastGroup := -1
	for rows.Next() {
		var group int
		assert.Equal(t, rows.Row().ScanKey(&group), nil)
		if group < lastGroup {
			t.Fatalf("rows out of order: %d after %d", group, lastGroup)
		}
		lastGroup = group
		ids = append(ids, rows.Row().ID)
	}
	assert.Equal(t, rows.Err(), nil)
	assert.Equal(t, len(ids), itemCount)
	assert.Equal(t, ids[:4], []string{"item-00", "item-07", "item-14", "item-21"})
}

func TestViewLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	rows, err := db.View(ctx, "items", "by_group", BatchSize(1000))
	assert.Equal(t, err, nil)
	all := collectIDs(t, rows)

	before := store.requestCount()
	rows, err = db.View(ctx, "items", "by_group", Limit(5), BatchSize(2))
	assert.Equal(t, err, nil)
	assert.Equal(t, collectIDs(t, rows), all[:5])
	assert.Equal(t, store.requestCount()-before, 3)

	for _, k := range []int{1, 7, 8} {
		rows, err = db.View(ctx, "items", "by_group", Limit(k), BatchSize(3), Descending())
		assert.Equal(t, err, nil)
		got := collectIDs(t, rows)
		assert.Equal(t, len(got), k)
		for i, id := range got {
			assert.Equal(t, id, all[len(all)-1-i])
		}
	}

	rows, err = db.View(ctx, "items", "by_group", Limit(100), BatchSize(10))
	assert.Equal(t, err, nil)
	assert.Equal(t, collectIDs(t, rows), all)
}

func TestViewInvalidArgumentsMakeNoRequest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := store.server().Database("items")

	before := store.requestCount()
	for _, opts := range [][]QueryOption{{BatchSize(0)}, {BatchSize(-1)}, {Limit(0)}, {Skip(-1)}} {
		_, err := db.View(ctx, "items", "by_group", opts...)
		assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
		_, err = db.Find(ctx, nil, opts...)
		assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
	}
	_, err := db.View(ctx, "", "by_group")
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
	assert.Equal(t, store.requestCount(), before)
}

func TestViewErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	rows, err := db.View(ctx, "items", "missing")
	assert.Equal(t, err, nil)
	assert.Equal(t, rows.Next(), false)
	assert.Equal(t, errors.Is(rows.Err(), ErrNotFound), true)

	rows, err = db.View(ctx, "items", "by_name", IncludeDocs())
	assert.Equal(t, err, nil)
	assert.Equal(t, rows.Next(), false)
	assert.Equal(t, errors.Is(rows.Err(), ErrValidation), true)
}

func TestViewOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	row, err := db.ViewOne(ctx, "items", "by_name", "name-05", Param("reduce", false), IncludeDocs())
	assert.Equal(t, err, nil)
	assert.Equal(t, row.ID, "item-05")
	var doc map[string]interface{}
	assert.Equal(t, row.ScanDoc(&doc), nil)
	assert.Equal(t, doc["group"], float64(5))

	_, err = db.ViewOne(ctx, "items", "by_group", 3)
	assert.Equal(t, errors.Is(err, ErrMultipleObjectsReturned), true)

	_, err = db.ViewOne(ctx, "items", "by_group", 99)
	assert.Equal(t, errors.Is(err, ErrDoesNotExist), true)
}

func TestAllDocs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	rows, err := db.AllDocs(ctx, BatchSize(4), StartKey("item"), EndKey("item-99"))
	assert.Equal(t, err, nil)
	ids := collectIDs(t, rows)
	assert.Equal(t, len(ids), itemCount)
	assert.Equal(t, ids[0], "item-00")

	designs, err := db.ListDesignDocuments(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(designs), 1)
	assert.Equal(t, designs[0].Name(), "items")
	assert.NotEqual(t, designs[0].Rev, "")

	for _, name := range []string{"a_more", "z_more"} {
		_, _, err := db.SaveDesign(ctx, name, DesignSpec{Views: map[string]ViewSpec{
			"all": {Map: `function(doc) { emit(doc._id, null); }`},
		}}, "", false)
		assert.Equal(t, err, nil)
	}
	before := store.requestsMatching("GET /items/_all_docs")
	designs, err = db.ListDesignDocuments(ctx, BatchSize(1))
	assert.Equal(t, err, nil)
	var names []string
	for _, d := range designs {
		names = append(names, d.Name())
	}
	assert.Equal(t, names, []string{"a_more", "items", "z_more"})
	assert.Equal(t, store.requestsMatching("GET /items/_all_docs")-before, 3)
}

func TestRowScanDocWithoutDocs(t *testing.T) {
	row := Row{ID: "a", Key: []byte(`"a"`), Value: []byte(`null`)}
	var v interface{}
	assert.Equal(t, errors.Is(row.ScanDoc(&v), ErrNotFound), true)
}
