// Package toolschema rewrites JSON-Schema tool parameters into the strict
// subset Gemini-style upstreams accept.
package toolschema

// Keywords the upstream rejects. The structural core (type, properties,
// required, items, description) is preserved.
var forbiddenKeywords = map[string]struct{}{
	"$schema":               {},
	"$ref":                  {},
	"$defs":                 {},
	"definitions":           {},
	"anyOf":                 {},
	"allOf":                 {},
	"oneOf":                 {},
	"not":                   {},
	"if":                    {},
	"then":                  {},
	"else":                  {},
	"exclusiveMinimum":      {},
	"exclusiveMaximum":      {},
	"multipleOf":            {},
	"propertyNames":         {},
	"patternProperties":     {},
	"unevaluatedProperties": {},
	"dependentSchemas":      {},
	"dependentRequired":     {},
	"minProperties":         {},
	"maxProperties":         {},
	"contains":              {},
	"minContains":           {},
	"maxContains":           {},
	"unevaluatedItems":      {},
	"prefixItems":           {},
	"uniqueItems":           {},
	"contentEncoding":       {},
	"contentMediaType":      {},
	"contentSchema":         {},
	"const":                 {},
	"deprecated":            {},
	"readOnly":              {},
	"writeOnly":             {},
	"examples":              {},
	"default":               {},
}

// Sanitize returns a copy of the schema with every forbidden keyword
// removed, recursing into nested objects and arrays. The input is not
// modified. Sanitize is idempotent.
func Sanitize(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		if _, banned := forbiddenKeywords[key]; banned {
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Sanitize(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
