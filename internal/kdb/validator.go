package kdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"
	"github.com/valyala/fastjson"
)

const indexRequestSchema = `{
	"type": "object",
	"properties": {
		"index": {
			"type": "object",
			"properties": {
				"fields": {
					"type": "array",
					"minItems": 1,
					"items": {"type": ["string", "object"]}
				},
				"partial_filter_selector": {"type": "object"}
			}
		},
		"ddoc": {"type": "string"},
		"name": {"type": "string"},
		"type": {"type": "string", "enum": ["json"]}
	}
}`

const findRequestSchema = `{
	"type": "object",
	"properties": {
		"selector": {"type": "object"},
		"limit": {"type": "integer", "minimum": 0},
		"skip": {"type": "integer", "minimum": 0},
		"sort": {"type": "array"},
		"fields": {"type": "array", "items": {"type": "string"}},
		"use_index": {"type": ["string", "array"]}
	}
}`

const clusterSetupSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["enable_single_node", "finish_cluster"]}
	}
}`

// RequestValidator checks request bodies against a JSON schema after the
// required keys are confirmed present.
type RequestValidator struct {
	schema   *jsonschema.Schema
	required [][]string
}

// NewRequestValidator compiles schema. required lists key paths that must
// be present, reported as missing_required_key.
func NewRequestValidator(schema string, required ...[]string) *RequestValidator {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(schema), rs); err != nil {
		panic(fmt.Sprintf("kdb: invalid request schema: %s", err))
	}
	return &RequestValidator{schema: rs, required: required}
}

func (validator *RequestValidator) Validate(data []byte) error {
	parser := parserPool.Get()
	defer parserPool.Put(parser)

	v, err := parser.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("%s: %w", MessageBadJSON, ErrBadJSON)
	}
	if v.Type() != fastjson.TypeObject {
		return fmt.Errorf("%s: %w", "Request body must be a JSON object", ErrBadRequest)
	}
	for _, path := range validator.required {
		if !v.Exists(path...) {
			return fmt.Errorf("Missing required key: %s: %w", path[len(path)-1], ErrMissingRequiredKey)
		}
	}

	errs, err := validator.schema.ValidateBytes(context.Background(), data)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrBadRequest)
	}
	if len(errs) > 0 {
		var messages []string
		for _, e := range errs {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("%s: %w", strings.Join(messages, ", "), ErrBadRequest)
	}
	return nil
}

var (
	indexRequestValidator = NewRequestValidator(indexRequestSchema, []string{"index"}, []string{"index", "fields"})
	findRequestValidator  = NewRequestValidator(findRequestSchema, []string{"selector"})
	clusterSetupValidator = NewRequestValidator(clusterSetupSchema, []string{"action"})
)

// ValidateIndexRequest checks a POST /{db}/_index body.
func ValidateIndexRequest(data []byte) error {
	return indexRequestValidator.Validate(data)
}

// ValidateFindRequest checks a POST /{db}/_find body.
func ValidateFindRequest(data []byte) error {
	return findRequestValidator.Validate(data)
}

// ValidateClusterSetup checks a POST /_cluster_setup body.
func ValidateClusterSetup(data []byte) error {
	return clusterSetupValidator.Validate(data)
}
