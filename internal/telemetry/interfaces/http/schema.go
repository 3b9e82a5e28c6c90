package http

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	apihttp "sensor-gateway/internal/api/http"
)

const readingSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["deviceId", "sensorType", "value"],
	"properties": {
		"deviceId": {"type": "string", "minLength": 1},
		"sensorType": {"type": "string", "minLength": 1},
		"value": {"type": ["number", "string"]},
		"unit": {"type": "string"},
		"timestamp": {"type": ["string", "number", "null"]},
		"location": {"type": "string"},
		"metadata": {"type": "object"}
	}
}`

const bulkSchemaTemplate = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["readings"],
	"properties": {
		"readings": {"type": "array", "minItems": 1, "maxItems": %d},
		"location": {"type": "string"}
	}
}`

func compileSchema(b []byte, ref string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(ref, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile(ref)
}

func readingSchema() (*jsonschema.Schema, error) {
	return compileSchema([]byte(readingSchemaJSON), "reading.json")
}

func bulkSchema(maxReadings int) (*jsonschema.Schema, error) {
	return compileSchema([]byte(fmt.Sprintf(bulkSchemaTemplate, maxReadings)), "bulk.json")
}

// schemaDetails flattens a schema validation failure into field errors.
func schemaDetails(err error) []apihttp.FieldError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []apihttp.FieldError{{Field: "body", Message: err.Error()}}
	}
	var details []apihttp.FieldError
	collectLeaves(verr, &details)
	sort.SliceStable(details, func(i, j int) bool { return details[i].Field < details[j].Field })
	return details
}

func collectLeaves(verr *jsonschema.ValidationError, out *[]apihttp.FieldError) {
	if len(verr.Causes) == 0 {
		*out = append(*out, apihttp.FieldError{
			Field:   fieldName(verr.InstanceLocation, verr.Message),
			Message: verr.Message,
		})
		return
	}
	for _, cause := range verr.Causes {
		collectLeaves(cause, out)
	}
}

// fieldName turns a JSON pointer into a dotted field path. Missing
// properties are reported on their parent, so the name is taken from the message.
func fieldName(pointer, message string) string {
	if strings.HasPrefix(message, "missing properties: ") {
		names := strings.TrimPrefix(message, "missing properties: ")
		first, _, _ := strings.Cut(names, ",")
		first = strings.Trim(strings.TrimSpace(first), "'")
		if parent := strings.Trim(strings.ReplaceAll(pointer, "/", "."), "."); parent != "" {
			return parent + "." + first
		}
		return first
	}
	field := strings.Trim(strings.ReplaceAll(pointer, "/", "."), ".")
	if field == "" {
		return "body"
	}
	return field
}
