package kdb

import (
	"github.com/bvinc/go-sqlite-lite/sqlite3"
)

// DatabaseReader reads documents of one database.
type DatabaseReader interface {
	GetDocumentByID(ID string) (*Document, error)
	GetAllDocuments() ([]*Document, error)
	GetAllDesignDocuments() ([]*Document, error)
	GetLastUpdateSequence() (int, string, error)
	GetDocumentCount() (int, int, error)
}

// DefaultDatabaseReader reads through prepared statements on the writer's
// connection.
type DefaultDatabaseReader struct {
	conn *sqlite3.Conn

	stmtDocumentByID       *sqlite3.Stmt
	stmtAllDocuments       *sqlite3.Stmt
	stmtAllDesignDocuments *sqlite3.Stmt
	stmtLastUpdateSequence *sqlite3.Stmt
	stmtDocumentCount      *sqlite3.Stmt
}

// Prepare compiles the reader statements.
func (reader *DefaultDatabaseReader) Prepare() error {
	con := reader.conn
	var err error
	reader.stmtDocumentByID, err = con.Prepare("SELECT doc_id, version, hash, deleted, data FROM documents WHERE doc_id = ?")
	if err != nil {
		return err
	}
	reader.stmtAllDocuments, err = con.Prepare("SELECT doc_id, version, hash, deleted, data FROM documents WHERE deleted = 0 ORDER BY doc_id")
	if err != nil {
		return err
	}
	reader.stmtAllDesignDocuments, err = con.Prepare("SELECT doc_id, version, hash, deleted, data FROM documents WHERE doc_id >= '_design/' AND doc_id < '_design0' AND deleted = 0 ORDER BY doc_id")
	if err != nil {
		return err
	}
	reader.stmtLastUpdateSequence, err = con.Prepare("SELECT COUNT(1), IFNULL(MAX(seq_id), '') FROM documents")
	if err != nil {
		return err
	}
	reader.stmtDocumentCount, err = con.Prepare("SELECT deleted, COUNT(1) FROM documents GROUP BY deleted")
	if err != nil {
		return err
	}
	return nil
}

// GetDocumentByID returns the latest revision of ID, deleted or not, or
// ErrDocumentNotFound when it was never written.
func (reader *DefaultDatabaseReader) GetDocumentByID(ID string) (*Document, error) {
	stmt := reader.stmtDocumentByID
	defer stmt.Reset()

	if err := stmt.Bind(ID); err != nil {
		return nil, err
	}
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		return nil, ErrDocumentNotFound
	}
	return scanDocument(stmt)
}

// GetAllDocuments returns every live document ordered by id.
func (reader *DefaultDatabaseReader) GetAllDocuments() ([]*Document, error) {
	return reader.scanAll(reader.stmtAllDocuments)
}

// GetAllDesignDocuments returns every live design document ordered by id.
func (reader *DefaultDatabaseReader) GetAllDesignDocuments() ([]*Document, error) {
	return reader.scanAll(reader.stmtAllDesignDocuments)
}

func (reader *DefaultDatabaseReader) scanAll(stmt *sqlite3.Stmt) ([]*Document, error) {
	defer stmt.Reset()

	var docs []*Document
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			return docs, nil
		}
		doc, err := scanDocument(stmt)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

func scanDocument(stmt *sqlite3.Stmt) (*Document, error) {
	doc := &Document{}
	var data string
	if err := stmt.Scan(&doc.ID, &doc.Version, &doc.Hash, &doc.Deleted, &data); err != nil {
		return nil, err
	}
	doc.Data = []byte(data)
	return doc, nil
}

// GetLastUpdateSequence returns the number of changes and the newest
// sequence id.
func (reader *DefaultDatabaseReader) GetLastUpdateSequence() (int, string, error) {
	stmt := reader.stmtLastUpdateSequence
	defer stmt.Reset()

	hasRow, err := stmt.Step()
	if err != nil {
		return 0, "", err
	}
	var (
		count int
		seqID string
	)
	if hasRow {
		if err := stmt.Scan(&count, &seqID); err != nil {
			return 0, "", err
		}
	}
	return count, seqID, nil
}

// GetDocumentCount returns the number of live and deleted documents.
func (reader *DefaultDatabaseReader) GetDocumentCount() (int, int, error) {
	stmt := reader.stmtDocumentCount
	defer stmt.Reset()

	docCount, deletedDocCount := 0, 0
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return 0, 0, err
		}
		if !hasRow {
			return docCount, deletedDocCount, nil
		}
		var deleted, count int
		if err := stmt.Scan(&deleted, &count); err != nil {
			return 0, 0, err
		}
		if deleted == 0 {
			docCount = count
		} else {
			deletedDocCount = count
		}
	}
}

// Close releases the prepared statements.
func (reader *DefaultDatabaseReader) Close() error {
	for _, stmt := range []*sqlite3.Stmt{
		reader.stmtDocumentByID,
		reader.stmtAllDocuments,
		reader.stmtAllDesignDocuments,
		reader.stmtLastUpdateSequence,
		reader.stmtDocumentCount,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
