// Command check_openapi verifies that api/openapi.yaml documents every route
// the records service serves and the error envelope it writes.
package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths      map[string]map[string]operation `yaml:"paths"`
	Components struct {
		Schemas   map[string]schema   `yaml:"schemas"`
		Responses map[string]response `yaml:"responses"`
	} `yaml:"components"`
}

type operation struct {
	Responses map[string]response `yaml:"responses"`
}

type response struct {
	Ref     string               `yaml:"$ref"`
	Content map[string]mediaType `yaml:"content"`
}

type mediaType struct {
	Schema schema `yaml:"schema"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
	Enum       []string          `yaml:"enum"`
}

// served lists method and path for every records route.
var served = []string{
	"get /healthz",
	"get /api/documents",
	"post /api/documents/upload",
	"post /api/documents/process",
	"get /api/documents/{id}",
	"get /api/documents/{id}/status",
	"get /api/documents/{id}/metrics",
	"get /api/documents/metrics/export.xlsx",
}

// errorCodes must all appear in ErrorResponse.code.enum.
var errorCodes = []string{
	"DOCUMENT_INVALID_REQUEST",
	"DOCUMENT_NOT_FOUND",
	"DOCUMENT_INVALID_STATE",
	"DOCUMENT_INTERNAL_ERROR",
	"RATE_LIMITED",
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	if err := check(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(path string) error {
	doc, err := loadDoc(path)
	if err != nil {
		return err
	}
	if err := validateRoutes(doc); err != nil {
		return err
	}
	errSchema, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errSchema); err != nil {
		return err
	}
	return validateRefs(doc)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func validateRoutes(doc openAPIDoc) error {
	var missing []string
	for _, route := range served {
		method, p, _ := strings.Cut(route, " ")
		if _, ok := doc.Paths[p][method]; !ok {
			missing = append(missing, strings.ToUpper(method)+" "+p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("undocumented routes: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		if prop, ok := s.Properties[field]; !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	enum := s.Properties["code"].Enum
	for _, code := range errorCodes {
		if !slices.Contains(enum, code) {
			return fmt.Errorf("ErrorResponse.code.enum must include %q", code)
		}
	}
	return nil
}

// validateRefs resolves every component reference used by an operation.
func validateRefs(doc openAPIDoc) error {
	var broken []string
	resolveSchema := func(ref, where string) {
		if ref == "" {
			return
		}
		name, ok := strings.CutPrefix(ref, "#/components/schemas/")
		if _, found := doc.Components.Schemas[name]; !ok || !found {
			broken = append(broken, where+" -> "+ref)
		}
	}
	var walk func(s schema, where string)
	walk = func(s schema, where string) {
		resolveSchema(s.Ref, where)
		if s.Items != nil {
			walk(*s.Items, where+".items")
		}
		for name, prop := range s.Properties {
			walk(prop, where+"."+name)
		}
	}

	for p, ops := range doc.Paths {
		for method, op := range ops {
			for status, resp := range op.Responses {
				where := strings.ToUpper(method) + " " + p + " " + status
				if resp.Ref != "" {
					name, ok := strings.CutPrefix(resp.Ref, "#/components/responses/")
					if _, found := doc.Components.Responses[name]; !ok || !found {
						broken = append(broken, where+" -> "+resp.Ref)
					}
				}
				for _, media := range resp.Content {
					walk(media.Schema, where)
				}
			}
		}
	}
	for name, s := range doc.Components.Schemas {
		walk(s, name)
		props := makeSet(keys(s.Properties))
		for _, req := range s.Required {
			if !props[req] {
				broken = append(broken, fmt.Sprintf("%s requires undeclared property %q", name, req))
			}
		}
	}
	for name, resp := range doc.Components.Responses {
		for _, media := range resp.Content {
			walk(media.Schema, "responses."+name)
		}
	}
	if len(broken) > 0 {
		sort.Strings(broken)
		return fmt.Errorf("unresolved references:\n  %s", strings.Join(broken, "\n  "))
	}
	return nil
}

func keys(m map[string]schema) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}
