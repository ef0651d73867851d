package kcouch

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/kirubasankars/kcouch/internal/kdb"
)

func newTestMigrator(store *testStore) *Migrator {
	cfg := Config{Servers: map[string]ServerConfig{"main": store.config}}
	return NewMigrator(cfg, log.New(store.logs, "", 0))
}

func byDateDesign(mapSource string) DesignSpec {
	return DesignSpec{Views: map[string]ViewSpec{"by_date": {Map: mapSource, Reduce: "_count"}}}
}

func TestMigratorApply(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	m := newTestMigrator(store)

	tree := SchemaTree{"main": {
		"orders": {
			Designs: map[string]DesignSpec{"shop_reports": byDateDesign(`function(doc) { emit(doc.date, null); }`)},
			Index: map[string]map[string]IndexDefinition{"idx": {
				"by_date":   {Fields: []IndexField{{Name: "date"}}},
				"by_status": {Fields: []IndexField{{Name: "status", Direction: "desc"}}},
			}},
		},
		"customers": {},
	}}

	changes, err := m.Apply(ctx, tree)
	assert.Equal(t, err, nil)
	assert.Equal(t, changes, []Change{
		{Alias: "main", Database: "customers", Kind: KindDatabase, Name: "customers", Action: ActionCreated},
		{Alias: "main", Database: "orders", Kind: KindDatabase, Name: "orders", Action: ActionCreated},
		{Alias: "main", Database: "orders", Kind: KindDesign, Name: "shop_reports", Action: ActionSaved},
		{Alias: "main", Database: "orders", Kind: KindIndex, Name: "idx/by_date", Action: ActionCreated},
		{Alias: "main", Database: "orders", Kind: KindIndex, Name: "idx/by_status", Action: ActionCreated},
	})
	assert.Equal(t, changes[2].String(), "main/orders: design shop_reports saved")
	assert.Equal(t, changes[0].String(), "main/customers: database created")
	assert.Equal(t, strings.Contains(store.logs.String(), "main/orders: index idx/by_status created"), true)

	changes, err = m.Apply(ctx, tree)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(changes), 5)
	for _, c := range changes {
		assert.Equal(t, c.Action, ActionUnchanged)
	}

	db := store.server().Database("orders")
	for _, id := range []string{"o1", "o2"} {
		doc := NewDocument(id, map[string]interface{}{"date": "2024-01-0" + id[1:], "status": "open"})
		if _, err := db.Save(ctx, doc, SaveOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	// replace the design, drop one index of idx
	tree["main"]["orders"] = &DatabaseSchema{
		Designs: map[string]DesignSpec{"crm_reports": byDateDesign(`function(doc) { if (doc.status === "open") emit(doc.date, null); }`)},
		Index: map[string]map[string]IndexDefinition{"idx": {
			"by_status": {Fields: []IndexField{{Name: "status", Direction: "desc"}}},
		}},
	}
	changes, err = m.Apply(ctx, tree)
	assert.Equal(t, err, nil)
	assert.Equal(t, changes[2:], []Change{
		{Alias: "main", Database: "orders", Kind: KindDesign, Name: "shop_reports", Action: ActionDeleted},
		{Alias: "main", Database: "orders", Kind: KindIndex, Name: "idx/by_date", Action: ActionDeleted},
		{Alias: "main", Database: "orders", Kind: KindDesign, Name: "crm_reports", Action: ActionSaved},
		{Alias: "main", Database: "orders", Kind: KindIndex, Name: "idx/by_status", Action: ActionUnchanged},
	})

	designs, err := db.ListDesignDocuments(ctx)
	assert.Equal(t, err, nil)
	var names []string
	for _, d := range designs {
		names = append(names, d.Name())
	}
	assert.Equal(t, names, []string{"crm_reports", "idx"})

	indexes, err := db.ListIndexes(ctx, "idx", "")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(indexes), 1)
	_, ok := indexes[IndexKey{DesignDoc: "idx", Name: "by_status"}]
	assert.Equal(t, ok, true)

	rows, err := db.View(ctx, "crm_reports", "by_date", Param("reduce", false))
	assert.Equal(t, err, nil)
	assert.Equal(t, collectIDs(t, rows), []string{"o1", "o2"})

	// an index design document that is no longer declared goes away whole
	tree["main"]["orders"].Index = nil
	changes, err = m.Apply(ctx, tree)
	assert.Equal(t, err, nil)
	assert.Equal(t, changes[2], Change{Alias: "main", Database: "orders", Kind: KindDesign, Name: "idx", Action: ActionDeleted})
	indexes, err = db.ListIndexes(ctx, "idx", "")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(indexes), 0)
}

func TestMigratorStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	m := newTestMigrator(store)

	changes, err := m.Apply(ctx, SchemaTree{"main": {
		"orders": {Designs: map[string]DesignSpec{
			"a_bad":  byDateDesign(`emit(doc.date)`),
			"b_good": byDateDesign(`function(doc) { emit(doc.date, null); }`),
		}},
	}})
	assert.Equal(t, errors.Is(err, ErrValidation), true)
	assert.Equal(t, strings.HasPrefix(err.Error(), "main/orders: "), true)
	assert.Equal(t, changes, []Change{
		{Alias: "main", Database: "orders", Kind: KindDatabase, Name: "orders", Action: ActionCreated},
	})

	_, err = m.Apply(ctx, SchemaTree{"other": {"orders": nil}})
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
}

func TestMigratorSetup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, kdb.Options{})
	m := newTestMigrator(store)
	assert.Equal(t, m.Setup(ctx), nil)
	assert.Equal(t, m.Setup(ctx), nil)

	bad := NewMigrator(Config{Servers: map[string]ServerConfig{"main": store.config, "down": {Host: "127.0.0.1", Port: 1}}}, log.New(store.logs, "", 0))
	err := bad.Setup(ctx)
	assert.Equal(t, errors.Is(err, ErrTransport), true)
	assert.Equal(t, strings.HasPrefix(err.Error(), "setup down: "), true)
}
