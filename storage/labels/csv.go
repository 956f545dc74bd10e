package labels

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const headerRows = 3

var (
	ErrMalformedHeader = errors.New("label file must start with scorer/bodyparts/coords header rows")
	ErrMalformedRow    = errors.New("label row is wider than the header")
	ErrInvalidEdit     = errors.New("invalid edit")
)

// File is a keypoint label table: three header rows (scorer, bodypart,
// coordinate) followed by one row per frame keyed by its first cell. Cells
// are kept as text so untouched values round-trip byte for byte.
type File struct {
	Header [headerRows][]string
	Rows   [][]string
}

// Parse reads a label CSV.
func Parse(r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < headerRows {
		return nil, ErrMalformedHeader
	}

	f := &File{}
	width := len(records[0])
	for i := 0; i < headerRows; i++ {
		if len(records[i]) != width {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrMalformedHeader, i+1, len(records[i]), width)
		}
		f.Header[i] = records[i]
	}

	for i, rec := range records[headerRows:] {
		if isBlankRow(rec) {
			continue
		}
		if len(rec) > width {
			return nil, fmt.Errorf("%w: row %d has %d cells, want at most %d", ErrMalformedRow, headerRows+i+1, len(rec), width)
		}
		f.Rows = append(f.Rows, pad(rec, width))
	}
	return f, nil
}

// isBlankRow matches rows with no cells or only empty cells, such as the
// trailing empty line some editors append.
func isBlankRow(rec []string) bool {
	for _, c := range rec {
		if c != "" {
			return false
		}
	}
	return true
}

// pad fills short rows with empty cells. Callers reject wider rows.
func pad(rec []string, width int) []string {
	if len(rec) == width {
		return rec
	}
	out := make([]string, width)
	copy(out, rec)
	return out
}

// Encode writes the table back in CSV form.
func (f *File) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range f.Header {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	if err := w.WriteAll(f.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Keypoints returns the distinct bodypart names in column order.
func (f *File) Keypoints() []string {
	var names []string
	seen := make(map[string]bool)
	for _, name := range f.Header[1][1:] {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Row returns the cells of the row with the given key, or nil.
func (f *File) Row(key string) []string {
	for _, row := range f.Rows {
		if row[0] == key {
			return row
		}
	}
	return nil
}

// Keypoint is a new position for one bodypart. A nil coordinate clears the
// cell.
type Keypoint struct {
	Name string
	X    *float64
	Y    *float64
}

// Upsert writes the given keypoints into the row keyed by key, appending a
// blank row first if the key is absent. Only the x/y columns of the named
// bodyparts are touched; unknown bodyparts are ignored.
func (f *File) Upsert(key string, changes []Keypoint) {
	byName := make(map[string]Keypoint, len(changes))
	for _, c := range changes {
		byName[c.Name] = c
	}

	row := f.Row(key)
	if row == nil {
		row = make([]string, len(f.Header[0]))
		row[0] = key
		f.Rows = append(f.Rows, row)
	}

	for col := 1; col < len(row); col++ {
		kp, ok := byName[f.Header[1][col]]
		if !ok {
			continue
		}
		switch f.Header[2][col] {
		case "x":
			row[col] = formatCoord(kp.X)
		case "y":
			row[col] = formatCoord(kp.Y)
		}
	}
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
