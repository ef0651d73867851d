package kdb

import (
	"crypto/subtle"
	"net/http"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

type Route struct {
	Name        string
	Methods     string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

type Routes []Route

func NewRouter(kdb *KDB) *mux.Router {
	router := mux.NewRouter().StrictSlash(true).UseEncodedPath()
	kdbHandler := NewKDBHandler(kdb)

	var routes = Routes{
		Route{
			"Info",
			"GET",
			"/",
			kdbHandler.GetInfo,
		},
		Route{
			"AllDatabases",
			"GET",
			"/_all_dbs",
			kdbHandler.AllDatabases,
		},
		Route{
			"UUID",
			"GET",
			"/_uuids",
			kdbHandler.GetUUIDs,
		},
		Route{
			"ClusterSetup",
			"POST",
			"/_cluster_setup",
			kdbHandler.ClusterSetup,
		},
		Route{
			"GetDatabase",
			"GET",
			"/{db}",
			kdbHandler.GetDatabase,
		},
		Route{
			"PutDatabase",
			"PUT",
			"/{db}",
			kdbHandler.PutDatabase,
		},
		Route{
			"DeleteDatabase",
			"DELETE",
			"/{db}",
			kdbHandler.DeleteDatabase,
		},
		Route{
			"PostDocument",
			"POST",
			"/{db}",
			kdbHandler.PostDocument,
		},
		Route{
			"DatabaseAllDocs",
			"GET",
			"/{db}/_all_docs",
			kdbHandler.DatabaseAllDocs,
		},
		Route{
			"DatabaseFind",
			"POST",
			"/{db}/_find",
			kdbHandler.DatabaseFind,
		},
		Route{
			"GetIndexes",
			"GET",
			"/{db}/_index",
			kdbHandler.GetIndexes,
		},
		Route{
			"PostIndex",
			"POST",
			"/{db}/_index",
			kdbHandler.PostIndex,
		},
		Route{
			"DeleteIndex",
			"DELETE",
			"/{db}/_index/{ddoc}/json/{name}",
			kdbHandler.DeleteIndex,
		},
		Route{
			"CompactDatabase",
			"POST",
			"/{db}/_compact",
			kdbHandler.CompactDatabase,
		},
		Route{
			"GetDDocument",
			"GET",
			"/{db}/_design/{docid}",
			kdbHandler.GetDDocument,
		},
		Route{
			"PutDDocument",
			"PUT",
			"/{db}/_design/{docid}",
			kdbHandler.PutDDocument,
		},
		Route{
			"DeleteDDocument",
			"DELETE",
			"/{db}/_design/{docid}",
			kdbHandler.DeleteDDocument,
		},
		Route{
			"SelectView",
			"GET",
			"/{db}/_design/{docid}/_view/{view}",
			kdbHandler.SelectView,
		},
		Route{
			"GetDocument",
			"GET",
			"/{db}/{docid}",
			kdbHandler.GetDocument,
		},
		Route{
			"PutDocument",
			"PUT",
			"/{db}/{docid}",
			kdbHandler.PutDocument,
		},
		Route{
			"DeleteDocument",
			"DELETE",
			"/{db}/{docid}",
			kdbHandler.DeleteDocument,
		},
	}

	for _, route := range routes {
		router.
			Methods(route.Methods).
			Path(route.Pattern).
			Name(route.Name).
			Handler(route.HandlerFunc)
	}

	router.Use(authMiddleware(kdb.opts))

	return router
}

// authMiddleware admits requests carrying the configured basic credentials
// or an HS256 bearer token signed with the configured secret. A node with
// neither configured is open.
func authMiddleware(opts Options) mux.MiddlewareFunc {
	parser := gojwt.NewParser(gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))

	authorized := func(r *http.Request) bool {
		header := r.Header.Get("Authorization")
		if opts.JWTSecret != "" && strings.HasPrefix(header, "Bearer ") {
			token, err := parser.Parse(strings.TrimPrefix(header, "Bearer "), func(token *gojwt.Token) (interface{}, error) {
				return []byte(opts.JWTSecret), nil
			})
			return err == nil && token.Valid
		}
		if opts.Username != "" {
			username, password, ok := r.BasicAuth()
			return ok &&
				subtle.ConstantTimeCompare([]byte(username), []byte(opts.Username)) == 1 &&
				subtle.ConstantTimeCompare([]byte(password), []byte(opts.Password)) == 1
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Username == "" && opts.JWTSecret == "" || r.URL.Path == "/" {
				next.ServeHTTP(w, r)
				return
			}
			if !authorized(r) {
				w.Header().Set("WWW-Authenticate", `Basic realm="kdb"`)
				NotOK(ErrUnauthorized, w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
