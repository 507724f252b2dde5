// Package schema computes cross-implementation-stable digests of message
// schemas. The canonical form must reproduce, byte for byte, the reference
// canonicalization shared by other implementations of the protocol: digest
// mismatches break message routing between agents, so the stringification
// rules here are part of the wire contract.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// DigestPrefix tags schema digests in envelope routing keys.
const DigestPrefix = "model:"

var ErrInvalidSchema = errors.New("input is not an object-shaped message schema")

// Digest canonicalizes a JSON-schema-like structural description of a message
// type and returns "model:" + the lowercase hex SHA-256 of the canonical form.
// The input is not modified.
func Digest(schema map[string]any) (string, error) {
	if schema == nil {
		return "", ErrInvalidSchema
	}

	normalized := normalizeObject(schema, "")

	if t, ok := normalized["type"]; ok {
		if s, ok := t.(string); !ok || s != "object" {
			return "", fmt.Errorf("%w: root type is %v", ErrInvalidSchema, t)
		}
	} else {
		return "", fmt.Errorf("%w: root has no type", ErrInvalidSchema)
	}

	var b strings.Builder
	if err := writeCanonical(&b, normalized); err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(b.String()))
	return DigestPrefix + hex.EncodeToString(sum[:]), nil
}

// IsDigest reports whether s has the persisted digest shape:
// "model:" followed by 64 lowercase hex characters.
func IsDigest(s string) bool {
	if !strings.HasPrefix(s, DigestPrefix) {
		return false
	}
	rest := s[len(DigestPrefix):]
	if len(rest) != 64 {
		return false
	}
	for _, r := range rest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// normalizeObject deep-copies m while applying the reference normalization
// rules: a single-element array under "type" is unwrapped to its bare
// element, and any object carrying a "type" but no "title" gets a title
// derived from the enclosing field's key.
func normalizeObject(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = normalizeValue(v, k)
	}

	if t, ok := out["type"]; ok {
		if arr, ok := t.([]any); ok && len(arr) == 1 {
			out["type"] = arr[0]
		}
		if _, hasTitle := out["title"]; !hasTitle && key != "" {
			out["title"] = titleize(key)
		}
	}
	return out
}

func normalizeValue(v any, key string) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeObject(val, key)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeValue(elem, key)
		}
		return out
	default:
		return v
	}
}

// titleize turns a snake_case field key into a schema title:
// "my_field" becomes "My Field".
func titleize(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// writeCanonical stringifies v in the reference canonical form: object keys
// sorted recursively, arrays in original order, ", " and ": " separators,
// non-ASCII escaped as \uXXXX.
func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeCanonicalString(b, val)
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case json.Number:
		b.WriteString(val.String())
	case float64:
		// Integral float64 values come from decoding integer literals.
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			b.WriteString(strconv.FormatInt(int64(val), 10))
		} else {
			b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeCanonicalString(b, k)
			b.WriteString(": ")
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := writeCanonical(b, elem); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		return fmt.Errorf("%w: unsupported value %T", ErrInvalidSchema, v)
	}
	return nil
}

func writeCanonicalString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(b, `\u%04x`, r)
			case r < 0x80:
				b.WriteRune(r)
			case r > 0xFFFF:
				// Escaped as a UTF-16 surrogate pair, as the reference does.
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(b, `\u%04x`, r)
			}
		}
	}
	b.WriteByte('"')
}
