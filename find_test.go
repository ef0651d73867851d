package kcouch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/kirubasankars/kcouch/internal/kdb"
)

func collectDocIDs(t *testing.T, rows *FindRows) []string {
	t.Helper()
	var ids []string
	for rows.Next() {
		var doc struct {
			ID string `json:"_id"`
		}
		assert.Equal(t, rows.Scan(&doc), nil)
		ids = append(ids, doc.ID)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestFindBatches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	selector := map[string]interface{}{"type": "item"}
	before := store.requestsMatching("POST /items/_find")
	rows, err := db.Find(ctx, selector, BatchSize(10))
	assert.Equal(t, err, nil)
	ids := collectDocIDs(t, rows)
	assert.Equal(t, len(ids), itemCount)
	assert.Equal(t, store.requestsMatching("POST /items/_find")-before, 3)

	for _, size := range []int{1, 4, 25, 100} {
		rows, err := db.Find(ctx, selector, BatchSize(size))
		assert.Equal(t, err, nil)
		assert.Equal(t, collectDocIDs(t, rows), ids)
	}

	rows, err = db.Find(ctx, selector, BatchSize(10), Limit(15), Skip(5))
	assert.Equal(t, err, nil)
	assert.Equal(t, collectDocIDs(t, rows), ids[5:20])
}

func TestFindWarningIsReportedOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	rows, err := db.Find(ctx, map[string]interface{}{"type": "item"}, BatchSize(10))
	assert.Equal(t, err, nil)
	collectDocIDs(t, rows)
	assert.Equal(t, rows.Warning(), kdb.MessageNoMatchingIndex)
	assert.Equal(t, strings.Count(store.logs.String(), "WARNING"), 1)

	store.logs.Reset()
	rows, err = db.Find(ctx, map[string]interface{}{"type": "item"}, Warn(false))
	assert.Equal(t, err, nil)
	collectDocIDs(t, rows)
	assert.Equal(t, rows.Warning(), kdb.MessageNoMatchingIndex)
	assert.Equal(t, store.logs.Len(), 0)

	_, err = db.CreateIndex(ctx, "idx", "by_type", IndexDefinition{Fields: []IndexField{{Name: "type"}}})
	assert.Equal(t, err, nil)
	rows, err = db.Find(ctx, map[string]interface{}{"type": "item"})
	assert.Equal(t, err, nil)
	collectDocIDs(t, rows)
	assert.Equal(t, rows.Warning(), "")
	assert.Equal(t, store.logs.Len(), 0)

	rows, err = db.Find(ctx, map[string]interface{}{"name": "name-01"}, UseIndex([]string{"idx", "by_type"}), Warn(false))
	assert.Equal(t, err, nil)
	collectDocIDs(t, rows)
	assert.Equal(t, strings.HasSuffix(rows.Warning(), "was not used because it does not contain a valid index for this query."), true)
}

func TestFindSortAndFields(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	rows, err := db.Find(ctx,
		map[string]interface{}{"group": map[string]interface{}{"$gte": 5}},
		Sort(map[string]string{"name": "desc"}),
		Fields("_id", "group"),
		BatchSize(2),
	)
	assert.Equal(t, err, nil)
	var names []string
	for rows.Next() {
		var doc map[string]interface{}
		assert.Equal(t, rows.Scan(&doc), nil)
		_, hasName := doc["name"]
		assert.Equal(t, hasName, false)
		names = append(names, doc["_id"].(string))
	}
	assert.Equal(t, rows.Err(), nil)
	assert.Equal(t, names, []string{"item-20", "item-19", "item-13", "item-12", "item-06", "item-05"})
}

func TestFindOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")
	seedItems(t, db)

	raw, err := db.FindOne(ctx, map[string]interface{}{"name": "name-03"})
	assert.Equal(t, err, nil)
	doc, err := ParseDocument(raw, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.ID, "item-03")

	_, err = db.FindOne(ctx, map[string]interface{}{"group": 1})
	assert.Equal(t, errors.Is(err, ErrMultipleObjectsReturned), true)

	_, err = db.FindOne(ctx, map[string]interface{}{"name": "nobody"})
	assert.Equal(t, errors.Is(err, ErrDoesNotExist), true)

	_, err = db.FindOne(ctx, map[string]interface{}{"name": map[string]interface{}{"$regex": "x"}})
	assert.Equal(t, errors.Is(err, ErrValidation), true)
}

func TestIndexes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	db := newTestDatabase(t, store, "items")

	def := IndexDefinition{Fields: []IndexField{{Name: "type"}, {Name: "group", Direction: "desc"}}}
	result, err := db.CreateIndex(ctx, "idx", "by_type", def)
	assert.Equal(t, err, nil)
	assert.Equal(t, result, IndexResult{Result: IndexCreated, DesignDoc: "idx", Name: "by_type"})

	posts := store.requestsMatching("POST /items/_index")
	result, err = db.CreateIndex(ctx, "idx", "by_type", def)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Result, IndexUnchanged)
	assert.Equal(t, store.requestsMatching("POST /items/_index"), posts)

	index, err := db.GetIndex(ctx, "idx", "by_type")
	assert.Equal(t, err, nil)
	assert.Equal(t, index.Type, "json")
	assert.Equal(t, index.Definition.Equal(def), true)

	all, err := db.ListIndexes(ctx, "", "")
	assert.Equal(t, err, nil)
	_, ok := all[IndexKey{Name: "_all_docs"}]
	assert.Equal(t, ok, true)
	assert.Equal(t, len(all), 2)

	assert.Equal(t, db.DeleteIndex(ctx, "idx", "by_type"), nil)
	_, err = db.GetIndex(ctx, "idx", "by_type")
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
	assert.Equal(t, errors.Is(db.DeleteIndex(ctx, "idx", "by_type"), ErrNotFound), true)

	_, err = db.CreateIndex(ctx, "", "x", def)
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
}
