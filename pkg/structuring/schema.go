package structuring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "clinical_record.json"

// Missing keys decode to null or empty; present keys must have the right type.
const recordSchema = `{
  "type": "object",
  "definitions": {
    "text": {"type": ["string", "null"]},
    "texts": {"type": ["array", "null"], "items": {"type": "string"}}
  },
  "properties": {
    "pet_name": {"$ref": "#/definitions/text"},
    "species": {"$ref": "#/definitions/text"},
    "breed": {"$ref": "#/definitions/text"},
    "weight": {"$ref": "#/definitions/text"},
    "diagnoses": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "date": {"$ref": "#/definitions/text"},
          "icd_code": {"$ref": "#/definitions/text"},
          "is_chronic": {"type": ["boolean", "null"]}
        }
      }
    },
    "past_medical_issues": {"$ref": "#/definitions/texts"},
    "chronic_conditions": {"$ref": "#/definitions/texts"},
    "procedures": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "date": {"$ref": "#/definitions/text"},
          "cpt_code": {"$ref": "#/definitions/text"},
          "reason": {"$ref": "#/definitions/text"},
          "cost": {"type": ["number", "null"]}
        }
      }
    },
    "medications": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "start_date": {"$ref": "#/definitions/text"},
          "end_date": {"$ref": "#/definitions/text"},
          "dosage": {"$ref": "#/definitions/text"},
          "frequency": {"$ref": "#/definitions/text"}
        }
      }
    },
    "symptom_onset_date": {"$ref": "#/definitions/text"},
    "notes": {"$ref": "#/definitions/text"},
    "clinic_info": {
      "type": ["object", "null"],
      "properties": {
        "name": {"$ref": "#/definitions/text"},
        "address": {"$ref": "#/definitions/text"},
        "phone": {"$ref": "#/definitions/text"},
        "veterinarian": {"$ref": "#/definitions/text"}
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(recordSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// validate checks raw model output against the record schema.
func validate(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
