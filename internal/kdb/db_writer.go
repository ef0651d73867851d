package kdb

import (
	"github.com/bvinc/go-sqlite-lite/sqlite3"
)

// DatabaseWriter owns the connection of one database and writes documents.
type DatabaseWriter interface {
	Open(createIfNotExists bool) error
	Close() error

	Begin() error
	Commit() error
	Rollback() error

	ExecBuildScript() error
	Vacuum() error

	Reader() DatabaseReader
	PutDocument(updateSeqID string, newDoc *Document) error
}

// SetupDatabaseScript creates the documents table. One row holds the latest
// revision of a document; deleted documents keep a tombstone row so their
// revision history continues when they are written again.
func SetupDatabaseScript() string {
	buildSQL := `
		CREATE TABLE IF NOT EXISTS documents (
			doc_id 		TEXT,
			version     INTEGER,
			hash 		TEXT,
			deleted     BOOL,
			data        TEXT,
			seq_id 		TEXT,
			PRIMARY KEY (doc_id)
		) WITHOUT ROWID;

		CREATE INDEX IF NOT EXISTS idx_metadata ON documents
			(doc_id, version, hash, deleted);

		CREATE INDEX IF NOT EXISTS idx_changes ON documents
			(seq_id, deleted);
		`
	return buildSQL
}

// DefaultDatabaseWriter writes through a single go-sqlite-lite connection.
// The connection is not safe for concurrent use; Database serializes
// access to it.
type DefaultDatabaseWriter struct {
	connectionString string

	reader          *DefaultDatabaseReader
	conn            *sqlite3.Conn
	stmtPutDocument *sqlite3.Stmt
}

// NewDatabaseWriter returns a writer for connectionString. An empty
// connection string opens a private in-memory database.
func NewDatabaseWriter(connectionString string) *DefaultDatabaseWriter {
	if connectionString == "" {
		connectionString = ":memory:"
	}
	return &DefaultDatabaseWriter{
		connectionString: connectionString,
		reader:           new(DefaultDatabaseReader),
	}
}

func (writer *DefaultDatabaseWriter) Open(createIfNotExists bool) error {
	con, err := sqlite3.Open(writer.connectionString)
	if err != nil {
		return err
	}
	writer.conn = con
	writer.reader.conn = con

	if writer.connectionString != ":memory:" {
		if err = con.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return err
		}
	}

	if createIfNotExists {
		if err := con.WithTx(writer.ExecBuildScript); err != nil {
			return err
		}
	}

	writer.stmtPutDocument, err = con.Prepare("INSERT OR REPLACE INTO documents (doc_id, version, hash, deleted, seq_id, data) VALUES(?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}

	return writer.reader.Prepare()
}

// Close connection
func (writer *DefaultDatabaseWriter) Close() error {
	if writer.stmtPutDocument != nil {
		writer.stmtPutDocument.Close()
	}
	writer.reader.Close()
	return writer.conn.Close()
}

// Begin begin transaction
func (writer *DefaultDatabaseWriter) Begin() error {
	return writer.conn.Begin()
}

// Commit commit transaction
func (writer *DefaultDatabaseWriter) Commit() error {
	return writer.conn.Commit()
}

// Rollback rollback transaction
func (writer *DefaultDatabaseWriter) Rollback() error {
	return writer.conn.Rollback()
}

// ExecBuildScript build tables
func (writer *DefaultDatabaseWriter) ExecBuildScript() error {
	return writer.conn.Exec(SetupDatabaseScript())
}

// Reader returns the reader sharing this connection.
func (writer *DefaultDatabaseWriter) Reader() DatabaseReader {
	return writer.reader
}

// PutDocument put document
func (writer *DefaultDatabaseWriter) PutDocument(updateSeqID string, newDoc *Document) error {
	defer writer.stmtPutDocument.Reset()
	data := string(newDoc.Data)
	if newDoc.Deleted {
		data = "{}"
	}
	return writer.stmtPutDocument.Exec(newDoc.ID, newDoc.Version, newDoc.Hash, newDoc.Deleted, updateSeqID, data)
}

// Vacuum rebuilds the database file.
func (writer *DefaultDatabaseWriter) Vacuum() error {
	return writer.conn.Exec("VACUUM")
}
