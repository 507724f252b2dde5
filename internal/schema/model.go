package schema

// Field describes one field of a flat message definition.
type Field struct {
	Name     string
	Type     string // JSON-schema primitive: "string", "integer", "number", "boolean"
	Optional bool
}

// Build constructs the structural schema document for a flat message type.
// Field order determines the order of the "required" list; property titles
// are filled in during canonicalization.
func Build(title, description string, fields ...Field) map[string]any {
	properties := make(map[string]any, len(fields))
	var required []any
	for _, f := range fields {
		properties[f.Name] = map[string]any{"type": f.Type}
		if !f.Optional {
			required = append(required, f.Name)
		}
	}

	doc := map[string]any{
		"title":      title,
		"type":       "object",
		"properties": properties,
	}
	if description != "" {
		doc["description"] = description
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// MustDigest is Build followed by Digest for schemas known to be valid.
func MustDigest(title, description string, fields ...Field) string {
	d, err := Digest(Build(title, description, fields...))
	if err != nil {
		panic(err)
	}
	return d
}
