package mapper

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ScanDocument is the structured interchange format: the full point list
// plus the session context in effect at export time. Points serialise as
// [x, y, quality, distance] arrays to keep large clouds compact.
type ScanDocument struct {
	Points         []Point   `json:"points"`
	ScanCount      int       `json:"scan_count"`
	Timestamp      time.Time `json:"timestamp"`
	TotalPoints    int       `json:"total_points"`
	FilterDistance float64   `json:"filter_distance"`
}

// csvHeader is the tabular format's fixed column order.
var csvHeader = []string{"X", "Y", "Quality", "Distance"}

// MarshalJSON encodes the point as a 4-element array.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{p.X, p.Y, float64(p.Quality), p.DistanceMM})
}

// UnmarshalJSON accepts a 4-element [x, y, quality, distance] array.
func (p *Point) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 4 {
		return fmt.Errorf("point record has %d fields, want 4", len(arr))
	}
	if arr[2] < 0 || arr[2] > 255 {
		return fmt.Errorf("point quality %v out of range", arr[2])
	}
	p.X, p.Y = arr[0], arr[1]
	p.Quality = uint8(arr[2])
	p.DistanceMM = arr[3]
	return nil
}

// ExportJSON writes the structured format.
func ExportJSON(w io.Writer, doc ScanDocument) error {
	if doc.Points == nil {
		doc.Points = []Point{}
	}
	doc.TotalPoints = len(doc.Points)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding scan document: %w", err)
	}
	return nil
}

// ImportJSON reads the structured format. scan_count and timestamp may be
// absent; they default to zero values. A decode failure returns an
// ImportError and no partial document.
func ImportJSON(r io.Reader) (ScanDocument, error) {
	var doc ScanDocument
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return ScanDocument{}, &ImportError{Err: err}
	}
	return doc, nil
}

// ExportCSV writes the tabular format: a header row then one row per point.
func ExportCSV(w io.Writer, points []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	row := make([]string, 4)
	for _, p := range points {
		row[0] = strconv.FormatFloat(p.X, 'f', -1, 64)
		row[1] = strconv.FormatFloat(p.Y, 'f', -1, 64)
		row[2] = strconv.Itoa(int(p.Quality))
		row[3] = strconv.FormatFloat(p.DistanceMM, 'f', -1, 64)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportCSV reads the tabular format. The header row is required; X and Y
// are required columns, quality and distance default to zero when the file
// carries a subset header.
func ImportCSV(r io.Reader) ([]Point, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, &ImportError{Err: fmt.Errorf("reading csv header: %w", err)}
	}

	// Map present columns to fields; unknown columns are an error.
	idx := map[string]int{}
	for i, name := range header {
		switch name {
		case "X", "Y", "Quality", "Distance":
			idx[name] = i
		default:
			return nil, &ImportError{Err: fmt.Errorf("unknown csv column %q", name)}
		}
	}
	if _, ok := idx["X"]; !ok {
		return nil, &ImportError{Err: fmt.Errorf("csv header missing X column")}
	}
	if _, ok := idx["Y"]; !ok {
		return nil, &ImportError{Err: fmt.Errorf("csv header missing Y column")}
	}

	var points []Point
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ImportError{Err: fmt.Errorf("csv line %d: %w", line, err)}
		}
		var p Point
		if p.X, err = strconv.ParseFloat(row[idx["X"]], 64); err != nil {
			return nil, &ImportError{Err: fmt.Errorf("csv line %d: bad X: %w", line, err)}
		}
		if p.Y, err = strconv.ParseFloat(row[idx["Y"]], 64); err != nil {
			return nil, &ImportError{Err: fmt.Errorf("csv line %d: bad Y: %w", line, err)}
		}
		if i, ok := idx["Quality"]; ok {
			q, err := strconv.ParseFloat(row[i], 64)
			if err != nil || q < 0 || q > 255 {
				return nil, &ImportError{Err: fmt.Errorf("csv line %d: bad quality %q", line, row[i])}
			}
			p.Quality = uint8(q)
		}
		if i, ok := idx["Distance"]; ok {
			if p.DistanceMM, err = strconv.ParseFloat(row[i], 64); err != nil {
				return nil, &ImportError{Err: fmt.Errorf("csv line %d: bad distance: %w", line, err)}
			}
		}
		points = append(points, p)
	}
	return points, nil
}

// LoadIntoStore replaces the store contents with imported points,
// respecting capacity exactly as live acquisition would: oldest points are
// evicted first when the import exceeds capacity. The store is untouched if
// the import itself failed, so callers import first and load second.
func LoadIntoStore(store *PointStore, points []Point) {
	store.Clear()
	for _, p := range points {
		store.Insert(p)
	}
}
