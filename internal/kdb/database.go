package kdb

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

const sequenceLength = 24

// Database is one open database. Writes and reads share a single
// connection and are serialized by mu.
type Database struct {
	Name string

	mu       sync.Mutex
	writer   DatabaseWriter
	reader   DatabaseReader
	seq      *SequenceGenerator
	seqNum   int
	seqID    string
	registry *mapRegistry
	designs  map[string]*CompiledDesign
	logger   *log.Logger
}

// OpenDatabase opens the database behind writer, creating the schema when
// asked to.
func OpenDatabase(name string, writer DatabaseWriter, createIfNotExists bool, registry *mapRegistry, logger *log.Logger) (*Database, error) {
	if err := writer.Open(createIfNotExists); err != nil {
		return nil, err
	}
	db := &Database{
		Name:     name,
		writer:   writer,
		reader:   writer.Reader(),
		registry: registry,
		designs:  make(map[string]*CompiledDesign),
		logger:   logger,
	}
	num, id, err := db.reader.GetLastUpdateSequence()
	if err != nil {
		writer.Close()
		return nil, err
	}
	if len(id) != sequenceLength {
		id = ""
	}
	db.seqNum, db.seqID = num, id
	db.seq = NewSequenceGenerator(sequenceLength, num, id)
	return db, nil
}

func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writer.Close()
}

func validateDocID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s: %w", "Document id must not be empty", ErrDocumentInvalidID)
	}
	if strings.HasPrefix(id, "_") && !strings.HasPrefix(id, designPrefix) {
		return fmt.Errorf("%s: %w", "Only reserved document ids may start with underscore.", ErrDocumentInvalidID)
	}
	if id == designPrefix {
		return fmt.Errorf("%s: %w", "Design document id must have a name.", ErrDocumentInvalidID)
	}
	return nil
}

// PutDocument writes a new revision of newDoc. The revision on newDoc must
// match the stored one; a deleted document can be written again without a
// revision.
func (db *Database) PutDocument(newDoc *Document) (*Document, error) {
	if newDoc.ID == "" {
		newDoc.ID = NewDocumentID()
	}
	if err := validateDocID(newDoc.ID); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	doc := &Document{ID: newDoc.ID, Deleted: newDoc.Deleted, Data: newDoc.Data}
	current, err := db.reader.GetDocumentByID(newDoc.ID)
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		if newDoc.Version != 0 {
			return nil, ErrDocumentConflict
		}
		if newDoc.Deleted {
			return nil, ErrDocumentNotFound
		}
	case err != nil:
		return nil, err
	case current.Deleted:
		if newDoc.Version != 0 && (newDoc.Version != current.Version || newDoc.Hash != current.Hash) {
			return nil, ErrDocumentConflict
		}
		if newDoc.Deleted {
			return nil, ErrDocumentDeleted
		}
		doc.Version, doc.Hash = current.Version, current.Hash
	default:
		if newDoc.Version != current.Version || newDoc.Hash != current.Hash {
			return nil, ErrDocumentConflict
		}
		doc.Version, doc.Hash = current.Version, current.Hash
	}
	if doc.Deleted || len(doc.Data) == 0 {
		doc.Data = []byte("{}")
	}

	var design *CompiledDesign
	if doc.IsDesign() && !doc.Deleted {
		if design, err = CompileDesign(db.registry, doc); err != nil {
			return nil, err
		}
	}

	doc.CalculateNextVersion()

	if err := db.writer.Begin(); err != nil {
		return nil, err
	}
	seqNum, seqID := db.seq.Next()
	if err := db.writer.PutDocument(seqID, doc); err != nil {
		db.writer.Rollback()
		return nil, err
	}
	if err := db.writer.Commit(); err != nil {
		db.writer.Rollback()
		return nil, err
	}
	db.seqNum, db.seqID = seqNum, seqID

	if doc.IsDesign() {
		if design != nil {
			design.Rev = doc.Rev()
			db.designs[doc.ID] = design
		} else {
			delete(db.designs, doc.ID)
		}
	}
	return doc, nil
}

// GetDocument returns the latest live revision of id.
func (db *Database) GetDocument(id string) (*Document, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	doc, err := db.reader.GetDocumentByID(id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, ErrDocumentDeleted
	}
	return doc, nil
}

// DeleteDocument writes a tombstone revision of id.
func (db *Database) DeleteDocument(id, rev string) (*Document, error) {
	version, hash, err := parseRev(rev)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, ErrDocumentConflict
	}
	return db.PutDocument(&Document{ID: id, Version: version, Hash: hash, Deleted: true})
}

func (db *Database) allDocuments() ([]*Document, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.reader.GetAllDocuments()
}

func (db *Database) designDocuments() ([]*Document, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.reader.GetAllDesignDocuments()
}

// AllDocs answers GET /{db}/_all_docs.
func (db *Database) AllDocs(q *ViewQuery) ([]byte, error) {
	docs, err := db.allDocuments()
	if err != nil {
		return nil, err
	}
	return queryMapRows(allDocsRows(docs), q, compareDocIDs)
}

// design returns the compiled views of ddocID, compiling the stored
// revision when the cache does not hold it.
func (db *Database) design(ddocID string) (*CompiledDesign, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	doc, err := db.reader.GetDocumentByID(ddocID)
	if errors.Is(err, ErrDocumentNotFound) {
		return nil, ErrViewNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		delete(db.designs, ddocID)
		return nil, ErrViewNotFound
	}
	if design, ok := db.designs[ddocID]; ok && design.Rev == doc.Rev() {
		return design, nil
	}
	design, err := CompileDesign(db.registry, doc)
	if err != nil {
		return nil, err
	}
	db.logger.Printf("%s: compiled %s at %s", db.Name, ddocID, design.Rev)
	db.designs[ddocID] = design
	return design, nil
}

// QueryView answers GET /{db}/_design/{ddoc}/_view/{view}. Rows are
// computed from the current documents on every request.
func (db *Database) QueryView(ddoc, viewName string, q *ViewQuery) ([]byte, error) {
	design, err := db.design(designPrefix + ddoc)
	if err != nil {
		return nil, err
	}
	view, ok := design.Views[viewName]
	if !ok {
		return nil, ErrViewNotFound
	}
	if q.Reduce != nil && *q.Reduce && view.Reduce == "" {
		return nil, fmt.Errorf("%s: %w", "Reduce is invalid for map-only views.", ErrQueryParse)
	}

	docs, err := db.allDocuments()
	if err != nil {
		return nil, err
	}
	rows, err := mapDocuments(docs, view.Map)
	if err != nil {
		return nil, err
	}
	if view.Reduce != "" && (q.Reduce == nil || *q.Reduce) {
		return queryReduceRows(rows, view, q)
	}
	return queryMapRows(rows, q, CompareKeys)
}

// Stat returns the database summary.
func (db *Database) Stat() (*DBStat, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	docCount, deletedDocCount, err := db.reader.GetDocumentCount()
	if err != nil {
		return nil, err
	}
	return &DBStat{
		DBName:          db.Name,
		UpdateSeq:       formatSeq(db.seqNum, db.seqID),
		DocCount:        docCount,
		DeletedDocCount: deletedDocCount,
	}, nil
}

// Vacuum compacts the database file.
func (db *Database) Vacuum() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writer.Vacuum()
}
