package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRepositorySpecPasses(t *testing.T) {
	if err := check(filepath.Join("..", "..", "api", "openapi.yaml")); err != nil {
		t.Fatalf("api/openapi.yaml: %v", err)
	}
}

func TestReportsMissingRoutesAndRefs(t *testing.T) {
	doc := `
paths:
  /healthz:
    get:
      responses:
        "200":
          $ref: "#/components/responses/Missing"
components:
  schemas:
    ErrorResponse:
      type: object
      required: [error, code]
      properties:
        error: {type: string}
        code: {type: string, enum: [DOCUMENT_INVALID_REQUEST, DOCUMENT_NOT_FOUND, DOCUMENT_INVALID_STATE, DOCUMENT_INTERNAL_ERROR, RATE_LIMITED]}
        requestId: {type: string}
`
	path := filepath.Join(t.TempDir(), "openapi.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := check(path)
	if err == nil || !strings.Contains(err.Error(), "POST /api/documents/upload") {
		t.Fatalf("expected undocumented route error, got %v", err)
	}

	doc2, err := loadDoc(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := validateRefs(doc2); err == nil || !strings.Contains(err.Error(), "#/components/responses/Missing") {
		t.Fatalf("expected unresolved ref, got %v", err)
	}
}

func TestErrorCodeEnumRequired(t *testing.T) {
	s := schema{
		Type:     "object",
		Required: []string{"error", "code"},
		Properties: map[string]schema{
			"error":     {Type: "string"},
			"code":      {Type: "string", Enum: []string{"DOCUMENT_NOT_FOUND"}},
			"requestId": {Type: "string"},
		},
	}
	if err := validateErrorResponse(s); err == nil || !strings.Contains(err.Error(), "DOCUMENT_INVALID_REQUEST") {
		t.Fatalf("expected missing code error, got %v", err)
	}
}
