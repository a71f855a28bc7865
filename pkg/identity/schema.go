package identity

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://hive.schemas.local/identity/v1.schema.json"

// identitySchema pins the shape of the identity file. Keys are lowercase or
// uppercase hex: 32-byte secret, 65-byte uncompressed public key.
const identitySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["secret_key", "public_key", "address"],
  "additionalProperties": false,
  "properties": {
    "secret_key": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"},
    "public_key": {"type": "string", "pattern": "^04[0-9a-fA-F]{128}$"},
    "address":    {"type": "string", "pattern": "^NET[0-8][1-9A-HJ-NP-Za-km-z]{36}$"}
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(identitySchema)); err != nil {
			compileErr = fmt.Errorf("identity schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// validateDocument checks raw identity JSON against the schema.
func validateDocument(data []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
