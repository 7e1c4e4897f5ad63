package celcond

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	maxObjects       = 100
	maxFields        = 200
	maxIdentifierLen = 100
)

// Schema declares the objects visible to CEL conditions.
// Maps object names to field definitions (field name -> CEL type name).
type Schema map[string]map[string]string

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var validTypes = map[string]bool{
	"int":       true,
	"int64":     true,
	"float64":   true,
	"string":    true,
	"bool":      true,
	"bytes":     true,
	"timestamp": true,
	"duration":  true,
}

var reservedKeywords = map[string]bool{
	// literals
	"true":  true,
	"false": true,
	"null":  true,
	// control flow
	"if":       true,
	"else":     true,
	"for":      true,
	"while":    true,
	"break":    true,
	"continue": true,
	"return":   true,
	// declarations
	"var":      true,
	"let":      true,
	"const":    true,
	"function": true,
	// other
	"in":        true,
	"as":        true,
	"import":    true,
	"package":   true,
	"namespace": true,
	"loop":      true,
	"void":      true,
}

// Objects returns the object names in sorted order.
func (s Schema) Objects() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSchema returns an error describing the first problem found, or nil.
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must contain at least one object definition")
	}
	if len(schema) > maxObjects {
		return fmt.Errorf("schema contains %d objects, maximum allowed is %d", len(schema), maxObjects)
	}

	// sorted so that the reported error is stable
	for _, objectName := range schema.Objects() {
		fields := schema[objectName]
		if err := validateIdentifier(objectName); err != nil {
			return fmt.Errorf("invalid object name %q: %w", objectName, err)
		}
		if len(fields) == 0 {
			return fmt.Errorf("object %q must contain at least one field", objectName)
		}
		if len(fields) > maxFields {
			return fmt.Errorf("object %q contains %d fields, maximum allowed is %d", objectName, len(fields), maxFields)
		}

		for fieldName, typeName := range fields {
			if err := validateIdentifier(fieldName); err != nil {
				return fmt.Errorf("invalid field name %q in object %q: %w", fieldName, objectName, err)
			}
			if typeName == "" {
				return fmt.Errorf("field %q in object %q has empty type name", fieldName, objectName)
			}
			if strings.TrimSpace(typeName) != typeName {
				return fmt.Errorf("field %q in object %q has type with leading/trailing whitespace: %q", fieldName, objectName, typeName)
			}
			if !isValidCELType(typeName) {
				return fmt.Errorf("field %q in object %q has invalid type %q (must be one of: int, int64, float64, string, bool, bytes, timestamp, duration)", fieldName, objectName, typeName)
			}
		}
	}

	return nil
}

// validateIdentifier checks an object or field name: 1-100 characters matching
// ^[a-zA-Z_][a-zA-Z0-9_]*$ and not a reserved keyword.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLen)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

// isValidCELType reports whether typeName is a supported CEL type. Case-sensitive.
func isValidCELType(typeName string) bool {
	return validTypes[typeName]
}

func isReservedKeyword(name string) bool {
	return reservedKeywords[name]
}
