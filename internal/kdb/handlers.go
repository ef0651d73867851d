package kdb

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
)

const maxBodySize = 4 << 20

// KDBHandler serves the HTTP interface of a node.
type KDBHandler struct {
	kdb *KDB
}

func NewKDBHandler(kdb *KDB) *KDBHandler {
	return &KDBHandler{kdb: kdb}
}

// pathVar returns the unescaped route variable name.
func pathVar(r *http.Request, name string) string {
	v := mux.Vars(r)[name]
	if s, err := url.PathUnescape(v); err == nil {
		return s
	}
	return v
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrBadRequest)
	}
	return body, nil
}

func (handler *KDBHandler) database(w http.ResponseWriter, r *http.Request) *Database {
	db, err := handler.kdb.Database(pathVar(r, "db"))
	if err != nil {
		NotOK(err, w)
		return nil
	}
	return db
}

func (handler *KDBHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := handler.kdb.Info()
	if err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (handler *KDBHandler) AllDatabases(w http.ResponseWriter, r *http.Request) {
	list, err := handler.kdb.ListDatabases()
	if err != nil {
		NotOK(err, w)
		return
	}
	if list == nil {
		list = []string{}
	}
	data, _ := JSONMarshal(list)
	writeJSON(w, http.StatusOK, data)
}

func (handler *KDBHandler) GetUUIDs(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.FormValue("count"))
	if count > 1000 {
		NotOK(fmt.Errorf("%s: %w", "count parameter too large", ErrBadRequest), w)
		return
	}
	data, _ := JSONMarshal(map[string][]string{"uuids": UUIDs(count)})
	writeJSON(w, http.StatusOK, data)
}

func (handler *KDBHandler) ClusterSetup(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		NotOK(err, w)
		return
	}
	if err := ValidateClusterSetup(body); err != nil {
		NotOK(err, w)
		return
	}
	if err := handler.kdb.FinishCluster(); err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusCreated, []byte(`{"ok":true}`))
}

func (handler *KDBHandler) GetDatabase(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	stat, err := db.Stat()
	if err != nil {
		NotOK(err, w)
		return
	}
	data, _ := JSONMarshal(stat)
	writeJSON(w, http.StatusOK, data)
}

func (handler *KDBHandler) PutDatabase(w http.ResponseWriter, r *http.Request) {
	if err := handler.kdb.CreateDatabase(pathVar(r, "db")); err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusCreated, []byte(`{"ok":true}`))
}

func (handler *KDBHandler) DeleteDatabase(w http.ResponseWriter, r *http.Request) {
	if err := handler.kdb.DeleteDatabase(pathVar(r, "db")); err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, []byte(`{"ok":true}`))
}

func (handler *KDBHandler) CompactDatabase(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	if err := db.Vacuum(); err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusAccepted, []byte(`{"ok":true}`))
}

func (handler *KDBHandler) DatabaseAllDocs(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	r.ParseForm()
	q, err := ParseViewQuery(r.Form)
	if err != nil {
		NotOK(err, w)
		return
	}
	rs, err := db.AllDocs(q)
	if err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (handler *KDBHandler) SelectView(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	r.ParseForm()
	q, err := ParseViewQuery(r.Form)
	if err != nil {
		NotOK(err, w)
		return
	}
	rs, err := db.QueryView(pathVar(r, "docid"), pathVar(r, "view"), q)
	if err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (handler *KDBHandler) DatabaseFind(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	body, err := readBody(r)
	if err != nil {
		NotOK(err, w)
		return
	}
	rs, err := db.Find(body)
	if err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (handler *KDBHandler) GetIndexes(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	rs, err := db.ListIndexes()
	if err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (handler *KDBHandler) PostIndex(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	body, err := readBody(r)
	if err != nil {
		NotOK(err, w)
		return
	}
	rs, err := db.CreateIndex(body)
	if err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (handler *KDBHandler) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	rs, err := db.DeleteIndex(pathVar(r, "ddoc"), pathVar(r, "name"))
	if err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func putDocument(db *Database, docid string, w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		NotOK(err, w)
		return
	}
	inputDoc, err := ParseDocument(body)
	if err != nil {
		NotOK(err, w)
		return
	}
	if docid != "" {
		inputDoc.ID = docid
	}
	if inputDoc.ID == "" && inputDoc.Version != 0 {
		NotOK(fmt.Errorf("%s: %w", "document can't have _rev without _id", ErrDocumentInvalidInput), w)
		return
	}
	if inputDoc.Version == 0 {
		rev := r.FormValue("rev")
		if rev == "" {
			rev = r.Header.Get("If-Match")
		}
		if inputDoc.Version, inputDoc.Hash, err = parseRev(rev); err != nil {
			NotOK(err, w)
			return
		}
	}
	outputDoc, err := db.PutDocument(inputDoc)
	if err != nil {
		NotOK(err, w)
		return
	}
	w.Header().Set("ETag", fmt.Sprintf("%q", outputDoc.Rev()))
	writeJSON(w, http.StatusCreated, []byte(OK(outputDoc)))
}

func getDocument(db *Database, docid string, w http.ResponseWriter, r *http.Request) {
	doc, err := db.GetDocument(docid)
	if err != nil {
		NotOK(err, w)
		return
	}
	if rev := r.FormValue("rev"); rev != "" && rev != doc.Rev() {
		NotOK(ErrDocumentNotFound, w)
		return
	}
	w.Header().Set("ETag", fmt.Sprintf("%q", doc.Rev()))
	writeJSON(w, http.StatusOK, doc.JSON())
}

func deleteDocument(db *Database, docid string, w http.ResponseWriter, r *http.Request) {
	rev := r.FormValue("rev")
	if rev == "" {
		rev = r.Header.Get("If-Match")
	}
	outputDoc, err := db.DeleteDocument(docid, rev)
	if err != nil {
		NotOK(err, w)
		return
	}
	writeJSON(w, http.StatusOK, []byte(OK(outputDoc)))
}

func (handler *KDBHandler) PostDocument(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	putDocument(db, "", w, r)
}

func (handler *KDBHandler) PutDocument(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	putDocument(db, pathVar(r, "docid"), w, r)
}

func (handler *KDBHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	getDocument(db, pathVar(r, "docid"), w, r)
}

func (handler *KDBHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	deleteDocument(db, pathVar(r, "docid"), w, r)
}

func (handler *KDBHandler) PutDDocument(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	putDocument(db, designPrefix+pathVar(r, "docid"), w, r)
}

func (handler *KDBHandler) GetDDocument(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	getDocument(db, designPrefix+pathVar(r, "docid"), w, r)
}

func (handler *KDBHandler) DeleteDDocument(w http.ResponseWriter, r *http.Request) {
	db := handler.database(w, r)
	if db == nil {
		return
	}
	deleteDocument(db, designPrefix+pathVar(r, "docid"), w, r)
}
