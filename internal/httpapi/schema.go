package httpapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const maxBody = 64 << 10

var (
	errNotJSON   = errors.New("request body is not application/json")
	errBadSchema = errors.New("request body does not match schema")
)

type schemaSet struct {
	spawn  *jsonschema.Schema
	update *jsonschema.Schema
	delete *jsonschema.Schema
}

func loadSchemas() (*schemaSet, error) {
	c := jsonschema.NewCompiler()
	compile := func(name string) (*jsonschema.Schema, error) {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		url := "https://shijima.local/schemas/" + name
		if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		return s, nil
	}
	var set schemaSet
	var err error
	if set.spawn, err = compile("spawn.json"); err != nil {
		return nil, err
	}
	if set.update, err = compile("update.json"); err != nil {
		return nil, err
	}
	if set.delete, err = compile("delete.json"); err != nil {
		return nil, err
	}
	return &set, nil
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// decodeBody validates the JSON object body of r against s and decodes it
// into dst.
func decodeBody(r *http.Request, s *jsonschema.Schema, dst any) error {
	if !isJSON(r) {
		return errNotJSON
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", errBadSchema, err)
	}
	return json.Unmarshal(raw, dst)
}
