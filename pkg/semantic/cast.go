package semantic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrNotCastable = errors.New("value cannot be cast")

// datetimeLayouts are tried in order by ParseDatetime.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
	time.RubyDate,
	time.UnixDate,
	time.ANSIC,
}

var timeLayouts = []string{
	"15:04:05.999999999",
	"15:04:05",
	"15:04",
	"3:04:05 PM",
	"3:04 PM",
}

// ParseDatetime parses s with the first matching known layout. Values without a
// zone are taken as UTC.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q is not a datetime", ErrNotCastable, s)
}

// ParseTimeOfDay parses a wall-clock time into a duration since midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t), nil
		}
	}

	return 0, fmt.Errorf("%w: %q is not a time of day", ErrNotCastable, s)
}

// TimeOfDay returns the wall-clock offset of t from its midnight.
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}

// FormatTimeOfDay renders a duration since midnight as hh:mm:ss[.fffffffff].
func FormatTimeOfDay(d time.Duration) string {
	return time.Time{}.Add(d).Format("15:04:05.999999999")
}

// Format renders any supported value as a string; nil renders as "".
func Format(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return FormatTimeOfDay(value)
	default:
		return fmt.Sprint(value)
	}
}

// Cast converts v into the Go representation of target. Nil stays nil.
func Cast(v any, target Type) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch target {
	case Text, Identifier, URL:
		return Format(v), nil
	case Integer:
		return castInteger(v)
	case Float:
		return castFloat(v)
	case Boolean:
		return castBoolean(v)
	case Datetime:
		return castDatetime(v)
	case Time:
		return castTime(v)
	default:
		return nil, fmt.Errorf("%w: unknown target type %q", ErrNotCastable, target)
	}
}

func castInteger(v any) (any, error) {
	switch value := v.(type) {
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	case float64:
		if value == math.Trunc(value) && !math.IsInf(value, 0) {
			return int64(value), nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return i, nil
		}
	}

	return nil, fmt.Errorf("%w: %v to integer", ErrNotCastable, v)
}

func castFloat(v any) (any, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case int64:
		return float64(value), nil
	case int:
		return float64(value), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f, nil
		}
	}

	return nil, fmt.Errorf("%w: %v to float", ErrNotCastable, v)
}

func castBoolean(v any) (any, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b, nil
		}
	}

	return nil, fmt.Errorf("%w: %v to boolean", ErrNotCastable, v)
}

func castDatetime(v any) (any, error) {
	switch value := v.(type) {
	case time.Time:
		return value.UTC(), nil
	case string:
		return ParseDatetime(value)
	}

	return nil, fmt.Errorf("%w: %v to datetime", ErrNotCastable, v)
}

func castTime(v any) (any, error) {
	switch value := v.(type) {
	case time.Duration:
		return value, nil
	case time.Time:
		return TimeOfDay(value), nil
	case string:
		return ParseTimeOfDay(value)
	}

	return nil, fmt.Errorf("%w: %v to time", ErrNotCastable, v)
}
