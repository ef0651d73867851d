package kdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

func formatDocString(id string, rev string, deleted bool) string {
	if rev != "" {
		if deleted {
			return fmt.Sprintf(`{"_id":%s,"_rev":"%s","_deleted":true}`, jsonString(id), rev)
		}
		return fmt.Sprintf(`{"_id":%s,"_rev":"%s"}`, jsonString(id), rev)
	}
	if deleted {
		return fmt.Sprintf(`{"_id":%s,"_deleted":true}`, jsonString(id))
	}
	return fmt.Sprintf(`{"_id":%s}`, jsonString(id))
}

func formatRev(version int, hash string) string {
	return fmt.Sprintf("%d-%s", version, hash)
}

// OK formats a write acknowledgement.
func OK(doc *Document) string {
	return fmt.Sprintf(`{"ok":true,"id":%s,"rev":"%s"}`, jsonString(doc.ID), doc.Rev())
}

// JSONMarshal encodes t without HTML escaping.
func JSONMarshal(t interface{}) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	err := encoder.Encode(t)
	return bytes.TrimRight(buffer.Bytes(), "\n"), err
}

func writeJSON(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}
