package realtime

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const metricsSchema = `{
  "type": "object",
  "properties": {
    "cpu_usage": {"type": ["number", "null"]},
    "memory_usage": {"type": ["number", "null"]},
    "latency": {"type": ["number", "null"]},
    "connections": {"type": ["number", "null"]}
  }
}`

const stringList = `{"type": ["array", "null"], "items": {"type": "string"}}`

var (
	envelopeSchema = mustSchema(`{
  "type": "object",
  "properties": {"type": {"type": "string"}}
}`)

	variantSchemas = map[string]*gojsonschema.Schema{
		TypeHospitalStatus: mustSchema(`{
  "type": "object",
  "properties": {
    "summary": {"type": ["string", "null"]},
    "metrics": {"oneOf": [` + metricsSchema + `, {"type": "null"}]},
    "status": {"type": ["string", "null"]},
    "load": {"type": ["string", "null"]},
    "quality": {"type": ["string", "null"]},
    "alerts": ` + stringList + `,
    "suggestions": ` + stringList + `
  }
}`),
		TypeInsight: mustSchema(`{
  "type": "object",
  "required": ["response"],
  "properties": {
    "response": {
      "type": "object",
      "properties": {
        "summary": {"type": ["string", "null"]},
        "metrics": {"oneOf": [` + metricsSchema + `, {"type": "null"}]},
        "highlights": ` + stringList + `,
        "alerts": ` + stringList + `,
        "suggestions": ` + stringList + `
      }
    }
  }
}`),
		TypeResponse: mustSchema(`{
  "type": "object",
  "required": ["response"],
  "properties": {"response": {"type": "string"}}
}`),
		TypeMetrics: mustSchema(`{
  "type": "object",
  "required": ["metrics"],
  "properties": {"metrics": ` + metricsSchema + `}
}`),
		TypeError: mustSchema(`{
  "type": "object",
  "properties": {"message": {"type": ["string", "null"]}}
}`),
	}
)

func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("compile frame schema: %v", err))
	}
	return schema
}

func validateFrame(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%w: %s", ErrMalformedPayload, strings.Join(errs, "; "))
	}

	return nil
}
