package kcouch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenLifetime = 5 * time.Minute

// Server talks to one store over HTTP. It owns authentication, URL
// construction and the mapping of failed responses onto *Error.
type Server struct {
	Alias string

	config  ServerConfig
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// NewServer returns a client for the store described by cfg.
func NewServer(alias string, cfg ServerConfig, logger *log.Logger) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		Alias:   alias,
		config:  cfg,
		baseURL: cfg.URL(),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  defaultLogger(logger),
	}
}

// Logger returns the logger used by the server and its databases.
func (s *Server) Logger() *log.Logger {
	return s.logger
}

// JSONMarshal encodes v without escaping HTML characters; view functions
// routinely contain < and >.
func JSONMarshal(v interface{}) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	err := encoder.Encode(v)
	return bytes.TrimRight(buffer.Bytes(), "\n"), err
}

// Do performs one request and returns the raw response body. path is
// relative to the server root and must already be escaped.
func (s *Server) Do(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		var payload []byte
		switch b := body.(type) {
		case []byte:
			payload = b
		case json.RawMessage:
			payload = b
		default:
			var err error
			if payload, err = JSONMarshal(body); err != nil {
				return nil, invalidArgument("encode request body: %s", err)
			}
		}
		reader = bytes.NewReader(payload)
	}

	target := s.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, transportError(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := s.authorize(req); err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return data, nil
	}
	return nil, responseError(resp.StatusCode, data)
}

func (s *Server) authorize(req *http.Request) error {
	if s.config.JWTSecret != "" {
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": s.config.Username,
			"iat": now.Unix(),
			"exp": now.Add(tokenLifetime).Unix(),
		})
		signed, err := token.SignedString([]byte(s.config.JWTSecret))
		if err != nil {
			return transportError(err)
		}
		req.Header.Set("Authorization", "Bearer "+signed)
		return nil
	}
	if s.config.Username != "" && s.config.Password != "" {
		req.SetBasicAuth(s.config.Username, s.config.Password)
	}
	return nil
}

func responseError(statusCode int, data []byte) *Error {
	e := &Error{StatusCode: statusCode}
	if err := json.Unmarshal(data, &e.Payload); err != nil || e.Payload == nil {
		e.Payload = map[string]interface{}{
			"error":  strings.ToLower(strings.ReplaceAll(http.StatusText(statusCode), " ", "_")),
			"reason": string(data),
		}
	}
	e.Payload["status_code"] = statusCode
	e.Code, _ = e.Payload["error"].(string)
	e.Reason, _ = e.Payload["reason"].(string)
	return e
}

func (s *Server) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	data, err := s.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Server) databaseName(name string) string {
	return s.config.DatabasePrefix + name
}

func (s *Server) databasePath(name string) string {
	return "/" + url.PathEscape(s.databaseName(name))
}

// Database returns a handle without checking that the database exists.
func (s *Server) Database(name string) *Database {
	return &Database{Name: name, server: s}
}

// CreateDatabase creates name and fails with ErrDatabaseExists if it is
// already there.
func (s *Server) CreateDatabase(ctx context.Context, name string) (*Database, error) {
	if _, err := s.Do(ctx, http.MethodPut, s.databasePath(name), nil, nil); err != nil {
		return nil, err
	}
	return s.Database(name), nil
}

// GetDatabase returns name, failing with ErrNotFound when it is missing.
func (s *Server) GetDatabase(ctx context.Context, name string) (*Database, error) {
	if _, err := s.Do(ctx, http.MethodGet, s.databasePath(name), nil, nil); err != nil {
		return nil, err
	}
	return s.Database(name), nil
}

// GetOrCreateDatabase returns name, creating it when missing. created
// reports whether this call created it.
func (s *Server) GetOrCreateDatabase(ctx context.Context, name string) (db *Database, created bool, err error) {
	db, err = s.GetDatabase(ctx, name)
	if err == nil {
		return db, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	db, err = s.CreateDatabase(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return db, true, nil
}

// DeleteDatabase drops name.
func (s *Server) DeleteDatabase(ctx context.Context, name string) error {
	_, err := s.Do(ctx, http.MethodDelete, s.databasePath(name), nil, nil)
	return err
}

// DeleteDatabaseIfExists drops name and ignores a missing database.
func (s *Server) DeleteDatabaseIfExists(ctx context.Context, name string) error {
	err := s.DeleteDatabase(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ListDatabases returns the user databases visible through the configured
// prefix, with the prefix removed.
func (s *Server) ListDatabases(ctx context.Context) ([]string, error) {
	var all []string
	if err := s.getJSON(ctx, "/_all_dbs", nil, &all); err != nil {
		return nil, err
	}
	prefix := s.config.DatabasePrefix
	var names []string
	for _, name := range all {
		if strings.HasPrefix(name, "_") || !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, strings.TrimPrefix(name, prefix))
	}
	return names, nil
}

// SingleNodeSetup finishes the cluster setup of a single node store. A store
// that is already set up is not an error.
func (s *Server) SingleNodeSetup(ctx context.Context) error {
	_, err := s.Do(ctx, http.MethodPost, "/_cluster_setup", nil, map[string]string{"action": "finish_cluster"})
	if e, ok := StoreError(err); ok && e.Reason == MessageClusterFinished {
		return nil
	}
	return err
}
