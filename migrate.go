package kcouch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Change kinds.
const (
	KindDatabase = "database"
	KindDesign   = "design"
	KindIndex    = "index"
)

// Change actions.
const (
	ActionCreated   = "created"
	ActionSaved     = "saved"
	ActionDeleted   = "deleted"
	ActionUnchanged = "unchanged"
)

// Change is one step taken, or found unnecessary, by Migrator.Apply.
type Change struct {
	Alias    string
	Database string
	Kind     string
	Name     string
	Action   string
}

func (c Change) String() string {
	if c.Kind == KindDatabase {
		return fmt.Sprintf("%s/%s: database %s", c.Alias, c.Database, c.Action)
	}
	return fmt.Sprintf("%s/%s: %s %s %s", c.Alias, c.Database, c.Kind, c.Name, c.Action)
}

// Migrator converges servers onto a SchemaTree.
type Migrator struct {
	config  Config
	logger  *log.Logger
	servers map[string]*Server
}

func NewMigrator(cfg Config, logger *log.Logger) *Migrator {
	return &Migrator{
		config:  cfg,
		logger:  defaultLogger(logger),
		servers: map[string]*Server{},
	}
}

func (m *Migrator) server(alias string) (*Server, error) {
	if s, ok := m.servers[alias]; ok {
		return s, nil
	}
	s, err := m.config.Server(alias, m.logger)
	if err != nil {
		return nil, err
	}
	m.servers[alias] = s
	return s, nil
}

// Setup finishes the single node setup of every configured server.
func (m *Migrator) Setup(ctx context.Context) error {
	for _, alias := range sortedKeys(m.config.Servers) {
		s, err := m.server(alias)
		if err != nil {
			return err
		}
		if err := s.SingleNodeSetup(ctx); err != nil {
			return fmt.Errorf("setup %s: %w", alias, err)
		}
	}
	return nil
}

// Apply makes every declared database match tree. Aliases, databases and
// artifacts are handled one at a time in sorted order. Within a database
// obsolete design documents and indexes are deleted before anything is
// written. The first failure stops the run; completed steps are kept and
// returned.
func (m *Migrator) Apply(ctx context.Context, tree SchemaTree) ([]Change, error) {
	var changes []Change
	for _, alias := range sortedKeys(tree) {
		s, err := m.server(alias)
		if err != nil {
			return changes, err
		}
		for _, name := range sortedKeys(tree[alias]) {
			schema := tree[alias][name]
			if schema == nil {
				schema = &DatabaseSchema{}
			}
			applied, err := m.applyDatabase(ctx, s, name, schema)
			changes = append(changes, applied...)
			if err != nil {
				return changes, fmt.Errorf("%s/%s: %w", alias, name, err)
			}
		}
	}
	return changes, nil
}

func (m *Migrator) applyDatabase(ctx context.Context, s *Server, name string, schema *DatabaseSchema) ([]Change, error) {
	var changes []Change
	record := func(kind, artifact, action string) {
		c := Change{Alias: s.Alias, Database: name, Kind: kind, Name: artifact, Action: action}
		m.logger.Println(c)
		changes = append(changes, c)
	}

	db, created, err := s.GetOrCreateDatabase(ctx, name)
	if err != nil {
		return changes, err
	}
	if created {
		record(KindDatabase, name, ActionCreated)
	} else {
		record(KindDatabase, name, ActionUnchanged)
	}

	needed := map[string]bool{}
	for design := range schema.Designs {
		needed[design] = true
	}
	for ddoc := range schema.Index {
		needed[ddoc] = true
	}

	stored, err := db.ListDesignDocuments(ctx)
	if err != nil {
		return changes, err
	}
	revs := map[string]string{}
	for _, info := range stored {
		if needed[info.Name()] {
			revs[info.Name()] = info.Rev
			continue
		}
		if err := db.Delete(ctx, info.ID, info.Rev); err != nil && !errors.Is(err, ErrNotFound) {
			return changes, err
		}
		record(KindDesign, info.Name(), ActionDeleted)
	}

	neededIndexes := map[IndexKey]bool{{DesignDoc: "", Name: "_all_docs"}: true}
	for ddoc, indexes := range schema.Index {
		for index := range indexes {
			neededIndexes[IndexKey{DesignDoc: ddoc, Name: index}] = true
		}
	}
	existing, err := db.ListIndexes(ctx, "", "")
	if err != nil {
		return changes, err
	}
	for _, key := range sortedIndexKeys(existing) {
		if neededIndexes[key] || key.DesignDoc == "" {
			continue
		}
		if err := db.DeleteIndex(ctx, key.DesignDoc, key.Name); err != nil && !errors.Is(err, ErrNotFound) {
			return changes, err
		}
		record(KindIndex, key.String(), ActionDeleted)
	}

	for _, design := range sortedKeys(schema.Designs) {
		_, result, err := db.SaveDesign(ctx, design, schema.Designs[design], revs[design], true)
		if err != nil {
			return changes, err
		}
		if result == Unchanged {
			record(KindDesign, design, ActionUnchanged)
		} else {
			record(KindDesign, design, ActionSaved)
		}
	}

	for _, ddoc := range sortedKeys(schema.Index) {
		for _, index := range sortedKeys(schema.Index[ddoc]) {
			result, err := db.CreateIndex(ctx, ddoc, index, schema.Index[ddoc][index])
			if err != nil {
				return changes, err
			}
			action := ActionCreated
			if result.Result == IndexUnchanged || result.Result == IndexExists {
				action = ActionUnchanged
			}
			record(KindIndex, IndexKey{DesignDoc: ddoc, Name: index}.String(), action)
		}
	}
	return changes, nil
}

func sortedIndexKeys(indexes map[IndexKey]Index) []IndexKey {
	keys := maps.Keys(indexes)
	slices.SortFunc(keys, func(a, b IndexKey) int {
		return cmp.Compare(a.String(), b.String())
	})
	return keys
}
