package kdb

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewDocumentID returns a new lexically sortable document id.
func NewDocumentID() string {
	return strings.ToLower(ulid.Make().String())
}

// UUIDs returns count new ids, at least one.
func UUIDs(count int) []string {
	if count <= 0 {
		count = 1
	}
	list := make([]string, 0, count)
	for i := 0; i < count; i++ {
		list = append(list, NewDocumentID())
	}
	return list
}
