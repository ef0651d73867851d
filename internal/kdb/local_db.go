package kdb

import (
	"errors"

	"github.com/bvinc/go-sqlite-lite/sqlite3"
)

// LocalDB is the node catalog: the databases of the node and their files,
// plus node settings such as the cluster setup state.
type LocalDB struct {
	conn *sqlite3.Conn
}

func (db *LocalDB) Open(connectionString string) error {
	if connectionString == "" {
		connectionString = ":memory:"
	}
	con, err := sqlite3.Open(connectionString)
	if err != nil {
		return err
	}
	db.conn = con

	return con.WithTx(func() error {
		return con.Exec(`
			CREATE TABLE IF NOT EXISTS dbs (name TEXT, filename TEXT, PRIMARY KEY(name));
			CREATE UNIQUE INDEX IF NOT EXISTS idx_filename ON dbs (filename);
			CREATE TABLE IF NOT EXISTS node (key TEXT, value TEXT, PRIMARY KEY(key));
		`)
	})
}

func (db *LocalDB) Close() error {
	return db.conn.Close()
}

func (db *LocalDB) Begin() error {
	return db.conn.Begin()
}

func (db *LocalDB) Commit() error {
	return db.conn.Commit()
}

func (db *LocalDB) Rollback() error {
	return db.conn.Rollback()
}

// Create registers name. A name that is already registered is
// ErrDatabaseExists.
func (db *LocalDB) Create(name, filename string) error {
	err := db.conn.Exec("INSERT INTO dbs (name, filename) VALUES(?, ?)", name, filename)
	var sqlErr *sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.CONSTRAINT_PRIMARYKEY, sqlite3.CONSTRAINT_UNIQUE:
			return ErrDatabaseExists
		}
	}
	return err
}

func (db *LocalDB) Delete(name string) error {
	return db.conn.Exec("DELETE FROM dbs WHERE name = ?", name)
}

// GetFileName returns the file of name, or ErrDatabaseNotFound.
func (db *LocalDB) GetFileName(name string) (string, error) {
	stmt, err := db.conn.Prepare("SELECT filename FROM dbs WHERE name = ?", name)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	hasRow, err := stmt.Step()
	if err != nil {
		return "", err
	}
	if !hasRow {
		return "", ErrDatabaseNotFound
	}
	var fileName string
	err = stmt.Scan(&fileName)
	return fileName, err
}

// List returns the registered database names in byte order.
func (db *LocalDB) List() ([]string, error) {
	stmt, err := db.conn.Prepare("SELECT name FROM dbs ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var dbs []string
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			return dbs, nil
		}
		var name string
		if err := stmt.Scan(&name); err != nil {
			return nil, err
		}
		dbs = append(dbs, name)
	}
}

// GetSetting returns the node setting key, and whether it is set.
func (db *LocalDB) GetSetting(key string) (string, bool, error) {
	stmt, err := db.conn.Prepare("SELECT value FROM node WHERE key = ?", key)
	if err != nil {
		return "", false, err
	}
	defer stmt.Close()

	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return "", false, err
	}
	var value string
	err = stmt.Scan(&value)
	return value, err == nil, err
}

func (db *LocalDB) PutSetting(key, value string) error {
	return db.conn.Exec("INSERT OR REPLACE INTO node (key, value) VALUES(?, ?)", key, value)
}

// SQLiteVersion reports the linked SQLite library.
func (db *LocalDB) SQLiteVersion() (string, string, error) {
	stmt, err := db.conn.Prepare("SELECT sqlite_version(), sqlite_source_id()")
	if err != nil {
		return "", "", err
	}
	defer stmt.Close()

	if _, err := stmt.Step(); err != nil {
		return "", "", err
	}
	var version, sourceID string
	err = stmt.Scan(&version, &sourceID)
	return version, sourceID, err
}
