package kdb

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

const (
	dbExt          = ".db"
	localDBName    = "_local" + dbExt
	clusterSetting = "cluster_finished"
)

var validDBName = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

// Options configure a node.
type Options struct {
	// DataPath holds the database files. Empty keeps everything in memory.
	DataPath string
	// Username and Password enable basic authentication.
	Username string
	Password string
	// JWTSecret enables HS256 bearer tokens.
	JWTSecret string
	Logger    *log.Logger
}

// KDB is a single node document store.
type KDB struct {
	opts Options

	dbs            map[string]*Database
	rwmux          sync.RWMutex
	serviceLocator ServiceLocator
	fileHandler    FileHandler
	localDB        *LocalDB
	registry       *mapRegistry
	logger         *log.Logger
}

// New opens the node at opts.DataPath and every database registered in it.
func New(opts Options) (*KDB, error) {
	kdb := &KDB{
		opts:           opts,
		dbs:            make(map[string]*Database),
		serviceLocator: NewServiceLocator(),
		localDB:        &LocalDB{},
		registry:       newMapRegistry(),
		logger:         opts.Logger,
	}
	if kdb.logger == nil {
		kdb.logger = log.New(os.Stderr, "[kdb] ", log.LstdFlags)
	}
	kdb.fileHandler = kdb.serviceLocator.GetFileHandler()

	localPath := ""
	if opts.DataPath != "" {
		if !kdb.fileHandler.IsFileExists(opts.DataPath) {
			if err := kdb.fileHandler.MkdirAll(opts.DataPath); err != nil {
				return nil, err
			}
		}
		localPath = filepath.Join(opts.DataPath, localDBName)
	}
	if err := kdb.localDB.Open(localPath); err != nil {
		return nil, err
	}

	list, err := kdb.localDB.List()
	if err != nil {
		return nil, err
	}
	for _, name := range list {
		fileName, err := kdb.localDB.GetFileName(name)
		if err != nil {
			return nil, err
		}
		if err := kdb.open(name, fileName, false); err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
	}
	return kdb, nil
}

// RegisterMap makes fn the map function of every view whose map source is
// source.
func (kdb *KDB) RegisterMap(source string, fn MapFunc) {
	kdb.registry.Register(source, fn)
}

// Handler returns the HTTP interface of the node.
func (kdb *KDB) Handler() http.Handler {
	return NewRouter(kdb)
}

func (kdb *KDB) connectionString(fileName string) string {
	if kdb.opts.DataPath == "" {
		return ""
	}
	return filepath.Join(kdb.opts.DataPath, fileName)
}

func (kdb *KDB) open(name, fileName string, create bool) error {
	writer := kdb.serviceLocator.GetDatabaseWriter(kdb.connectionString(fileName))
	db, err := OpenDatabase(name, writer, create, kdb.registry, kdb.logger)
	if err != nil {
		return err
	}
	kdb.dbs[name] = db
	return nil
}

func validateDBName(name string) error {
	if !validDBName.MatchString(name) {
		return fmt.Errorf("Name: '%s'.: %w", name, ErrDatabaseInvalidName)
	}
	return nil
}

// ListDatabases returns the database names in byte order.
func (kdb *KDB) ListDatabases() ([]string, error) {
	kdb.rwmux.RLock()
	defer kdb.rwmux.RUnlock()
	return kdb.localDB.List()
}

// CreateDatabase creates name, or fails with ErrDatabaseExists.
func (kdb *KDB) CreateDatabase(name string) error {
	if err := validateDBName(name); err != nil {
		return err
	}

	kdb.rwmux.Lock()
	defer kdb.rwmux.Unlock()

	if _, ok := kdb.dbs[name]; ok {
		return ErrDatabaseExists
	}

	fileName := url.PathEscape(name) + "-" + NewDocumentID() + dbExt
	if err := kdb.localDB.Begin(); err != nil {
		return err
	}
	if err := kdb.localDB.Create(name, fileName); err != nil {
		kdb.localDB.Rollback()
		return err
	}
	if err := kdb.open(name, fileName, true); err != nil {
		kdb.localDB.Rollback()
		return err
	}
	if err := kdb.localDB.Commit(); err != nil {
		return err
	}
	kdb.logger.Printf("created database %s", name)
	return nil
}

// Database returns the open database name.
func (kdb *KDB) Database(name string) (*Database, error) {
	if err := validateDBName(name); err != nil {
		return nil, err
	}
	kdb.rwmux.RLock()
	defer kdb.rwmux.RUnlock()

	db, ok := kdb.dbs[name]
	if !ok {
		return nil, ErrDatabaseNotFound
	}
	return db, nil
}

// DeleteDatabase closes name and removes its files.
func (kdb *KDB) DeleteDatabase(name string) error {
	if err := validateDBName(name); err != nil {
		return err
	}

	kdb.rwmux.Lock()
	defer kdb.rwmux.Unlock()

	db, ok := kdb.dbs[name]
	if !ok {
		return ErrDatabaseNotFound
	}
	fileName, err := kdb.localDB.GetFileName(name)
	if err != nil {
		return err
	}
	if err := kdb.localDB.Delete(name); err != nil {
		return err
	}
	delete(kdb.dbs, name)
	db.Close()

	if kdb.opts.DataPath != "" {
		path := kdb.connectionString(fileName)
		for _, suffix := range []string{"-shm", "-wal", ""} {
			if err := kdb.fileHandler.Remove(path + suffix); err != nil {
				kdb.logger.Printf("delete %s: %s", name, err)
			}
		}
	}
	kdb.logger.Printf("deleted database %s", name)
	return nil
}

// FinishCluster marks the node as set up. A second call fails with
// ErrBadRequest.
func (kdb *KDB) FinishCluster() error {
	kdb.rwmux.Lock()
	defer kdb.rwmux.Unlock()

	if _, done, err := kdb.localDB.GetSetting(clusterSetting); err != nil {
		return err
	} else if done {
		return fmt.Errorf("%s: %w", MessageClusterFinished, ErrBadRequest)
	}
	return kdb.localDB.PutSetting(clusterSetting, "true")
}

// Info describes the node.
func (kdb *KDB) Info() ([]byte, error) {
	kdb.rwmux.RLock()
	defer kdb.rwmux.RUnlock()

	version, sourceID, err := kdb.localDB.SQLiteVersion()
	if err != nil {
		return nil, err
	}
	return JSONMarshal(map[string]interface{}{
		"couchdb": "Welcome",
		"version": "3.3.3",
		"vendor":  map[string]string{"name": "kdb"},
		"sqlite": map[string]string{
			"sqlite_version":   version,
			"sqlite_source_id": sourceID,
		},
	})
}

// Close closes every database and the catalog.
func (kdb *KDB) Close() error {
	kdb.rwmux.Lock()
	defer kdb.rwmux.Unlock()

	for name, db := range kdb.dbs {
		db.Close()
		delete(kdb.dbs, name)
	}
	return kdb.localDB.Close()
}
