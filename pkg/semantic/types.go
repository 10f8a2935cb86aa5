// Package semantic defines the semantic data types of tabular columns, the
// coercions between them, and the inference of a column's meaning from a sample
// of its values.
//
// A semantic type describes how a column is meant to be interpreted, not how it
// is physically stored. Values travel through the system as plain Go values:
//
//	text, identifier, url → string
//	integer               → int64
//	float                 → float64
//	boolean               → bool
//	datetime              → time.Time
//	time                  → time.Duration since midnight
//
// A nil value is a null in every column.
package semantic

import "fmt"

// Type is the semantic data type of a column.
type Type string

const (
	Text       Type = "text"
	Integer    Type = "integer"
	Float      Type = "float"
	Boolean    Type = "boolean"
	Datetime   Type = "datetime"
	Time       Type = "time"
	Identifier Type = "identifier"
	URL        Type = "url"
)

// All lists every semantic type in declaration order.
var All = []Type{Text, Integer, Float, Boolean, Datetime, Time, Identifier, URL}

// Valid reports whether t is one of the closed set of semantic types.
func (t Type) Valid() bool {
	for _, candidate := range All {
		if t == candidate {
			return true
		}
	}

	return false
}

// IsString reports whether values of t are carried as Go strings.
func (t Type) IsString() bool {
	return t == Text || t == Identifier || t == URL
}

// Parse converts a string into a Type, rejecting unknown names.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown semantic type %q", s)
	}

	return t, nil
}
