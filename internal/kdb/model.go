package kdb

import "encoding/json"

type DBStat struct {
	DBName          string `json:"db_name"`
	UpdateSeq       string `json:"update_seq"`
	DocCount        int    `json:"doc_count"`
	DeletedDocCount int    `json:"doc_del_count"`
}

type DesignDocumentView struct {
	Map     json.RawMessage `json:"map"`
	Reduce  string          `json:"reduce,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

type DesignDocument struct {
	Language string                         `json:"language,omitempty"`
	Views    map[string]*DesignDocumentView `json:"views"`
}

// IndexRequest is the body of POST /{db}/_index.
type IndexRequest struct {
	Index struct {
		Fields                []json.RawMessage      `json:"fields"`
		PartialFilterSelector map[string]interface{} `json:"partial_filter_selector,omitempty"`
	} `json:"index"`
	DesignDoc string `json:"ddoc"`
	Name      string `json:"name"`
	Type      string `json:"type"`
}

// IndexInfo is one entry of GET /{db}/_index.
type IndexInfo struct {
	DesignDoc *string         `json:"ddoc"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Def       json.RawMessage `json:"def"`
}

// FindRequest is the body of POST /{db}/_find.
type FindRequest struct {
	Selector map[string]interface{} `json:"selector"`
	Limit    *int                   `json:"limit"`
	Skip     int                    `json:"skip"`
	Sort     []interface{}          `json:"sort"`
	Fields   []string               `json:"fields"`
	UseIndex interface{}            `json:"use_index"`
}

type findResponse struct {
	Docs     []json.RawMessage `json:"docs"`
	Bookmark string            `json:"bookmark"`
	Warning  string            `json:"warning,omitempty"`
}
