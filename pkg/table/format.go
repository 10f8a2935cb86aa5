package table

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Format is a file format rows can be written in.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatJSON    Format = "json"
)

var Formats = []Format{FormatCSV, FormatXLSX, FormatJSON, FormatParquet}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Extension is the file name suffix for the format, without a dot.
func (f Format) Extension() string {
	return string(f)
}

// Create opens a Writer for the format at path.
func Create(format Format, path string, schema Schema) (Writer, error) {
	var (
		w   Writer
		err error
	)

	switch format {
	case FormatParquet:
		w, err = CreateParquet(path, schema)
	case FormatCSV:
		w, err = CreateCSV(path, schema)
	case FormatXLSX:
		w, err = CreateXLSX(path, schema)
	case FormatJSON:
		w, err = CreateJSONLines(path, schema)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}

	return w, nil
}
