package semantic

import (
	"regexp"
	"strings"
	"time"
)

const (
	DefaultThreshold  = 0.8
	DefaultSampleSize = 100
)

var (
	urlPattern        = regexp.MustCompile(`^https?://`)
	identifierPattern = regexp.MustCompile(`^@?[A-Za-z0-9_.:-]+$`)

	epochLowerBound = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	epochUpperBound = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Semantic describes one way of interpreting a physically typed column.
type Semantic struct {
	Name     string
	DataType Type

	// accepts reports whether a column stored as the given physical type can
	// carry this semantic at all.
	accepts func(physical Type) bool
	// convert turns a stored value into the semantic's representation.
	convert func(v any) (any, bool)
	// validate judges a converted value; nil means "non-null is valid".
	validate func(v any) bool
}

// Convert applies the semantic transform to a single stored value. Values that
// fail conversion become nil, matching a non-strict column cast.
func (s *Semantic) Convert(v any) any {
	if v == nil {
		return nil
	}

	converted, ok := s.convert(v)
	if !ok {
		return nil
	}

	return converted
}

// Check reports whether more than threshold of the sampled values convert and
// validate under this semantic.
func (s *Semantic) Check(physical Type, values []any, threshold float64, sampleSize int) bool {
	if !s.accepts(physical) {
		return false
	}

	sample := Sample(values, sampleSize)
	if len(sample) == 0 {
		return false
	}

	valid := 0
	for _, v := range sample {
		if v == nil {
			if s.validate != nil && s.validate(nil) {
				valid++
			}

			continue
		}

		converted, ok := s.convert(v)
		if !ok {
			continue
		}

		if s.validate == nil || s.validate(converted) {
			valid++
		}
	}

	return float64(valid)/float64(len(sample)) > threshold
}

// Sample returns up to n values spread evenly across values, deterministically.
func Sample(values []any, n int) []any {
	if n <= 0 || len(values) <= n {
		return values
	}

	sample := make([]any, 0, n)
	step := float64(len(values)) / float64(n)
	for i := range n {
		sample = append(sample, values[int(float64(i)*step)])
	}

	return sample
}

func acceptsOnly(types ...Type) func(Type) bool {
	return func(physical Type) bool {
		for _, t := range types {
			if physical == t {
				return true
			}
		}

		return false
	}
}

func always(any) bool { return true }

func inEpochRange(v any) bool {
	t, ok := v.(time.Time)

	return ok && t.After(epochLowerBound) && t.Before(epochUpperBound)
}

func identity(v any) (any, bool) { return v, true }

func trimmed(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}

	return strings.TrimSpace(s), true
}

func numericMillis(scale float64) func(any) (any, bool) {
	return func(v any) (any, bool) {
		var f float64
		switch value := v.(type) {
		case int64:
			f = float64(value)
		case float64:
			f = value
		default:
			return nil, false
		}

		return time.UnixMilli(int64(f * scale)).UTC(), true
	}
}

var (
	DatetimeString = &Semantic{
		Name:     "datetime",
		DataType: Datetime,
		accepts:  acceptsOnly(Text),
		convert: func(v any) (any, bool) {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			t, err := ParseDatetime(s)

			return t, err == nil
		},
	}

	DatetimeNative = &Semantic{
		Name:     "datetime_native",
		DataType: Datetime,
		accepts:  acceptsOnly(Datetime),
		convert:  identity,
		validate: always,
	}

	TimestampSeconds = &Semantic{
		Name:     "timestamp_seconds",
		DataType: Datetime,
		accepts:  acceptsOnly(Integer, Float),
		convert:  numericMillis(1_000),
		validate: inEpochRange,
	}

	TimestampMilliseconds = &Semantic{
		Name:     "timestamp_milliseconds",
		DataType: Datetime,
		accepts:  acceptsOnly(Integer, Float),
		convert:  numericMillis(1),
		validate: inEpochRange,
	}

	URLString = &Semantic{
		Name:     "url",
		DataType: URL,
		accepts:  acceptsOnly(Text),
		convert:  trimmed,
		validate: func(v any) bool {
			s, ok := v.(string)

			return ok && urlPattern.MatchString(s)
		},
	}

	IdentifierString = &Semantic{
		Name:     "identifier",
		DataType: Identifier,
		accepts:  acceptsOnly(Text),
		convert:  trimmed,
		validate: func(v any) bool {
			s, ok := v.(string)

			return ok && identifierPattern.MatchString(s)
		},
	}

	FreeText = &Semantic{
		Name:     "free_text",
		DataType: Text,
		accepts:  acceptsOnly(Text),
		convert:  identity,
		validate: always,
	}

	IntegerCatchAll = &Semantic{
		Name:     "integer",
		DataType: Integer,
		accepts:  acceptsOnly(Integer),
		convert:  identity,
		validate: always,
	}

	FloatCatchAll = &Semantic{
		Name:     "float",
		DataType: Float,
		accepts:  acceptsOnly(Float),
		convert:  identity,
		validate: always,
	}

	BooleanCatchAll = &Semantic{
		Name:     "boolean",
		DataType: Boolean,
		accepts:  acceptsOnly(Boolean),
		convert:  identity,
		validate: always,
	}

	TimeCatchAll = &Semantic{
		Name:     "time",
		DataType: Time,
		accepts:  acceptsOnly(Time),
		convert:  identity,
		validate: always,
	}
)

// Semantics is the ordered list consulted by Infer; the first match wins.
var Semantics = []*Semantic{
	DatetimeString,
	DatetimeNative,
	TimestampSeconds,
	TimestampMilliseconds,
	URLString,
	IdentifierString,
	FreeText,
	IntegerCatchAll,
	FloatCatchAll,
	BooleanCatchAll,
	TimeCatchAll,
}

// Infer returns the first semantic matching the column, or nil.
func Infer(physical Type, values []any) *Semantic {
	return InferWith(physical, values, DefaultThreshold, DefaultSampleSize)
}

func InferWith(physical Type, values []any, threshold float64, sampleSize int) *Semantic {
	for _, s := range Semantics {
		if s.Check(physical, values, threshold, sampleSize) {
			return s
		}
	}

	return nil
}

// Lookup finds a semantic by name.
func Lookup(name string) (*Semantic, bool) {
	for _, s := range Semantics {
		if s.Name == name {
			return s, true
		}
	}

	return nil, false
}
