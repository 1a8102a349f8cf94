package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"photovault/pkg/backup"
	"photovault/pkg/domain"
	"photovault/pkg/queue"
	"photovault/pkg/store"
)

type openAPIDoc struct {
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// schemaTypes maps documented schemas to the Go types served on the wire.
var schemaTypes = map[string]reflect.Type{
	"User":         reflect.TypeOf(domain.User{}),
	"Album":        reflect.TypeOf(domain.Album{}),
	"Photo":        reflect.TypeOf(domain.Photo{}),
	"Snapshot":     reflect.TypeOf(domain.Snapshot{}),
	"StagedImport": reflect.TypeOf(backup.StagedImport{}),
	"StoreDump":    reflect.TypeOf(store.Dump{}),
	"JobStatus":    reflect.TypeOf(queue.JobStatus{}),
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <vault-openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := checkDoc(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func checkDoc(doc openAPIDoc) error {
	errSchema, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errSchema); err != nil {
		return err
	}
	names := make([]string, 0, len(schemaTypes))
	for name := range schemaTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := getSchema(doc, name)
		if err != nil {
			return err
		}
		if err := ensureMatchesType(name, s, schemaTypes[name]); err != nil {
			return err
		}
	}
	return nil
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
		if prop, ok := s.Properties[field]; !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	if prop, ok := s.Properties["requestId"]; !ok || prop.Type != "string" {
		return errors.New("ErrorResponse.requestId must be string")
	}
	return nil
}

// ensureMatchesType compares documented properties with the JSON fields of t.
// Fields without omitempty or omitzero must be listed as required.
func ensureMatchesType(name string, s schema, t reflect.Type) error {
	if s.Type != "object" {
		return fmt.Errorf("%s must be object", name)
	}
	fields, required := jsonFields(t)
	documented := make([]string, 0, len(s.Properties))
	for prop := range s.Properties {
		documented = append(documented, prop)
	}
	sort.Strings(documented)
	if strings.Join(documented, ",") != strings.Join(fields, ",") {
		return fmt.Errorf("%s properties mismatch: documented %v, Go %v", name, documented, fields)
	}
	docRequired := append([]string(nil), s.Required...)
	sort.Strings(docRequired)
	if strings.Join(docRequired, ",") != strings.Join(required, ",") {
		return fmt.Errorf("%s required mismatch: documented %v, Go %v", name, docRequired, required)
	}
	return nil
}

func jsonFields(t reflect.Type) (fields, required []string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		fields = append(fields, name)
		if !strings.Contains(opts, "omitempty") && !strings.Contains(opts, "omitzero") {
			required = append(required, name)
		}
	}
	sort.Strings(fields)
	sort.Strings(required)
	return fields, required
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

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
