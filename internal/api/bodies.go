package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/attest/internal/ir"
	"github.com/roach88/attest/internal/ledger"
)

// Request body schemas. They check JSON shape only; identifier bounds,
// timestamps and per-ledger fields are the ledger's to judge so its error
// codes reach the caller.
const (
	initializeSchemaURL = "https://attest.schemas.local/initialize.schema.json"
	recordSchemaURL     = "https://attest.schemas.local/record.schema.json"

	initializeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "admin": {"type": "string"}
  },
  "required": ["admin"],
  "additionalProperties": false
}`

	recordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "key": {"type": "string"},
    "parties": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "fields": {"type": "object"},
    "timestamp": {"type": "integer"}
  },
  "required": ["parties", "timestamp"],
  "additionalProperties": false
}`
)

// InitializeBody is the body of an initialize call.
type InitializeBody struct {
	Admin ledger.Identity `json:"admin"`
}

// RecordBody is the body of a record call.
type RecordBody struct {
	Key       string                     `json:"key,omitempty"`
	Parties   map[string]ledger.Identity `json:"parties"`
	Fields    ir.IRObject                `json:"fields,omitempty"`
	Timestamp int64                      `json:"timestamp"`
}

// Request converts the body to a ledger request.
func (b RecordBody) Request() ledger.Request {
	return ledger.Request{
		Key:       b.Key,
		Parties:   b.Parties,
		Fields:    b.Fields,
		Timestamp: b.Timestamp,
	}
}

type bodyValidator struct {
	initialize *jsonschema.Schema
	record     *jsonschema.Schema
}

func newBodyValidator() (*bodyValidator, error) {
	initialize, err := compileSchema(initializeSchemaURL, initializeSchema)
	if err != nil {
		return nil, err
	}
	record, err := compileSchema(recordSchemaURL, recordSchema)
	if err != nil {
		return nil, err
	}
	return &bodyValidator{initialize: initialize, record: record}, nil
}

func compileSchema(url, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("body schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("body schema compile failed: %w", err)
	}
	return compiled, nil
}

// decode validates data against schema, then decodes it into out.
func decode(schema *jsonschema.Schema, data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func (v *bodyValidator) decodeInitialize(data []byte) (InitializeBody, error) {
	var body InitializeBody
	err := decode(v.initialize, data, &body)
	return body, err
}

func (v *bodyValidator) decodeRecord(data []byte) (RecordBody, error) {
	var body RecordBody
	err := decode(v.record, data, &body)
	return body, err
}

// DecodeInitializeBody validates and decodes an initialize body with the
// same rules the server applies.
func DecodeInitializeBody(data []byte) (InitializeBody, error) {
	v, err := newBodyValidator()
	if err != nil {
		return InitializeBody{}, err
	}
	return v.decodeInitialize(data)
}

// DecodeRecordBody validates and decodes a record body with the same rules
// the server applies.
func DecodeRecordBody(data []byte) (RecordBody, error) {
	v, err := newBodyValidator()
	if err != nil {
		return RecordBody{}, err
	}
	return v.decodeRecord(data)
}
