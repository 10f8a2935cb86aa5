package protocol

import "github.com/dukex/mangotango/pkg/table"

// ReadTable loads a whole output of an analyzer into memory.
func ReadTable(assets AssetsReader, outputID string) ([]table.Row, error) {
	tr, err := assets.Table(outputID)
	if err != nil {
		return nil, err
	}

	r, err := tr.Open()
	if err != nil {
		return nil, err
	}

	return table.ReadAll(r)
}

// WriteTable creates the output and writes rows to it in one go.
func WriteTable(tw TableWriter, rows []table.Row) error {
	w, err := tw.Create()
	if err != nil {
		return err
	}

	if err := w.Write(rows...); err != nil {
		_ = w.Close()

		return err
	}

	return w.Close()
}
