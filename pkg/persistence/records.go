package persistence

import (
	"encoding/json"
	"fmt"
)

func decode[T any](r Record) (*T, error) {
	var v T
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", r.Class, err)
	}

	return &v, nil
}

func encode[T any](class string, v *T) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode %s record: %w", class, err)
	}

	return Record{Class: class, Data: data}, nil
}

func matches[T any](where func(*T) bool, v *T) bool {
	return where == nil || where(v)
}

// Select decodes every record of class accepted by where (nil accepts all).
func Select[T any](tx Tx, class string, where func(*T) bool) ([]*T, error) {
	var out []*T

	for _, r := range tx.Records() {
		if r.Class != class {
			continue
		}

		v, err := decode[T](r)
		if err != nil {
			return nil, err
		}

		if matches(where, v) {
			out = append(out, v)
		}
	}

	return out, nil
}

// First returns the first record of class accepted by where, or nil.
func First[T any](tx Tx, class string, where func(*T) bool) (*T, error) {
	for _, r := range tx.Records() {
		if r.Class != class {
			continue
		}

		v, err := decode[T](r)
		if err != nil {
			return nil, err
		}

		if matches(where, v) {
			return v, nil
		}
	}

	return nil, nil
}

// Exists reports whether any record of class is accepted by where.
func Exists[T any](tx Tx, class string, where func(*T) bool) (bool, error) {
	v, err := First(tx, class, where)

	return v != nil, err
}

func Insert[T any](tx Tx, class string, v *T) error {
	r, err := encode(class, v)
	if err != nil {
		return err
	}

	records := append(append([]Record{}, tx.Records()...), r)

	return tx.SetRecords(records)
}

// Update applies fn to every record of class accepted by where and returns
// how many records changed.
func Update[T any](tx Tx, class string, where func(*T) bool, fn func(*T)) (int, error) {
	records := append([]Record{}, tx.Records()...)
	n := 0

	for i, r := range records {
		if r.Class != class {
			continue
		}

		v, err := decode[T](r)
		if err != nil {
			return 0, err
		}

		if !matches(where, v) {
			continue
		}

		fn(v)
		if records[i], err = encode(class, v); err != nil {
			return 0, err
		}
		n++
	}

	if n == 0 {
		return 0, nil
	}

	return n, tx.SetRecords(records)
}

// Upsert replaces the records of class accepted by where with v, or
// appends v when none match.
func Upsert[T any](tx Tx, class string, v *T, where func(*T) bool) error {
	n, err := Update(tx, class, where, func(existing *T) { *existing = *v })
	if err != nil || n > 0 {
		return err
	}

	return Insert(tx, class, v)
}

// Delete removes every record of class accepted by where and returns how
// many were removed.
func Delete[T any](tx Tx, class string, where func(*T) bool) (int, error) {
	records := make([]Record, 0, len(tx.Records()))
	n := 0

	for _, r := range tx.Records() {
		if r.Class == class {
			v, err := decode[T](r)
			if err != nil {
				return 0, err
			}

			if matches(where, v) {
				n++

				continue
			}
		}

		records = append(records, r)
	}

	if n == 0 {
		return 0, nil
	}

	return n, tx.SetRecords(records)
}
