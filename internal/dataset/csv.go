package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
)

// Encode writes records as CSV with a UTF-8 byte-order mark, a header row
// and "\n" line endings.
func Encode(w io.Writer, records []models.Record) error {
	bw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(bw)

	if err := cw.Write(models.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(recordRow(r)); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return bw.Close()
}

func recordRow(r models.Record) []string {
	return []string{
		r.Text,
		r.ID,
		strconv.Itoa(r.Length),
		strconv.Itoa(r.HasURL),
		strconv.Itoa(r.HasPhone),
		strconv.Itoa(int(r.Label)),
	}
}

// WriteCSV replaces path with records. The parent directory is created if
// needed and the file is swapped in with a rename, so readers never see a
// half-written table.
func WriteCSV(path string, records []models.Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Decode reads a dataset table. A leading byte-order mark is optional and
// columns are matched by header name, so extra columns are ignored. A
// missing or unparsable length is recomputed from the text.
func Decode(r io.Reader) ([]models.Record, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"text", "id"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}

	var records []models.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(records)+1, err)
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}

		rec := models.Record{
			Text:     get("text"),
			ID:       get("id"),
			HasURL:   atoi(get("has_url")),
			HasPhone: atoi(get("has_phone")),
			Label:    models.Label(atoi(get("label"))),
		}
		if n, err := strconv.Atoi(get("length")); err == nil {
			rec.Length = n
		} else {
			rec.Length = normalize.RuneLen(rec.Text)
		}
		records = append(records, rec)
	}
	return records, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ReadCSV loads a table written by WriteCSV. A missing file is an empty table.
func ReadCSV(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	records, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}
