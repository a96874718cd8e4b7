package storage

import (
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"heatsim/calculator"
	"heatsim/solver"
)

const (
	metadataFile = "metadata.json"
	fieldFile    = "field.csv.gz"
)

var (
	ErrInvalidID = errors.New("invalid archive id")
	ErrNotFound  = errors.New("archive not found")
)

// Store keeps one directory per session with the run metadata and the full
// temperature field history.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type Metadata struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Nr int       `json:"nr"`
	Nz int       `json:"nz"`
	R  []float64 `json:"r"`
	Z  []float64 `json:"z"`

	Samples               int       `json:"samples"`
	TotalTime             float64   `json:"total_time"`
	SourceNode            [2]int    `json:"source_node"`
	SourcePeakTemperature float64   `json:"source_peak_temperature"`
	PeakTemperature       float64   `json:"peak_temperature"`
	LayerNames            []string  `json:"layer_names"`
	LayerBoundaries       []float64 `json:"layer_boundaries_nm"`
	SubstrateBoundary     float64   `json:"substrate_boundary_nm"`
	DeviceRadius          float64   `json:"device_radius"`
	ActiveLayer           string    `json:"active_layer"`
	ActiveLayerFallback   bool      `json:"active_layer_fallback"`

	Stats solver.Stats `json:"solver_stats"`
}

// Archive is a loaded run: metadata plus every sampled field, flattened
// with the radial index varying fastest.
type Archive struct {
	Metadata
	Times  []float64
	Fields [][]float64
}

// SourceTemperature returns the heat source node temperature per sample.
func (a *Archive) SourceTemperature() []float64 {
	k := a.SourceNode[1]*a.Nr + a.SourceNode[0]
	out := make([]float64, len(a.Fields))
	for q, f := range a.Fields {
		out[q] = f[k]
	}
	return out
}

// Path returns the archive directory for id.
func (s *Store) Path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return "", ErrInvalidID
	}
	return filepath.Join(s.baseDir, id), nil
}

// FieldPath returns the path of the compressed field file for id.
func (s *Store) FieldPath(id string) (string, error) {
	d, err := s.Path(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(d, fieldFile), nil
}

// MetadataPath returns the path of the metadata file for id.
func (s *Store) MetadataPath(id string) (string, error) {
	d, err := s.Path(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(d, metadataFile), nil
}

// Save writes the archive for id and returns its directory.
func (s *Store) Save(id string, res *calculator.Result) (string, error) {
	runDir, err := s.Path(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := Metadata{
		ID:                    id,
		Timestamp:             time.Now(),
		Nr:                    res.Nr,
		Nz:                    res.Nz,
		R:                     res.R,
		Z:                     res.Z,
		Samples:               len(res.Times),
		TotalTime:             res.TotalTime,
		SourceNode:            res.SourceNode,
		SourcePeakTemperature: res.SourcePeakTemperature,
		PeakTemperature:       res.PeakTemperature,
		LayerNames:            res.LayerNames,
		LayerBoundaries:       res.LayerBoundaries,
		SubstrateBoundary:     res.SubstrateBoundary,
		DeviceRadius:          res.DeviceRadius,
		ActiveLayer:           res.ActiveLayer,
		ActiveLayerFallback:   res.ActiveLayerFallback,
		Stats:                 res.Stats,
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeField(filepath.Join(runDir, fieldFile), res.Times, res.Fields); err != nil {
		return "", err
	}
	return runDir, nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return f.Close()
}

// writeField stores one CSV row per sample: the time followed by every node
// temperature, printed with the shortest exact representation.
func writeField(path string, times []float64, fields [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	w := csv.NewWriter(zw)

	if len(fields) > 0 {
		header := make([]string, 0, len(fields[0])+1)
		header = append(header, "time")
		for k := range fields[0] {
			header = append(header, "T"+strconv.Itoa(k))
		}
		if err := w.Write(header); err != nil {
			return err
		}
	}
	row := make([]string, 0)
	for q, field := range fields {
		row = append(row[:0], strconv.FormatFloat(times[q], 'g', -1, 64))
		for _, v := range field {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

// Load reads the archive for id.
func (s *Store) Load(id string) (*Archive, error) {
	runDir, err := s.Path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(runDir, metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a := &Archive{}
	if err := json.Unmarshal(data, &a.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	f, err := os.Open(filepath.Join(runDir, fieldFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	r := csv.NewReader(zr)
	r.ReuseRecord = true
	if _, err := r.Read(); err != nil && err != io.EOF {
		return nil, err
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("decode field: %w", err)
		}
		field := make([]float64, len(rec)-1)
		for k, cell := range rec[1:] {
			if field[k], err = strconv.ParseFloat(cell, 64); err != nil {
				return nil, fmt.Errorf("decode field: %w", err)
			}
		}
		a.Times = append(a.Times, t)
		a.Fields = append(a.Fields, field)
	}
	return a, nil
}

// Delete removes the archive for id. Deleting a missing archive is not an
// error.
func (s *Store) Delete(id string) error {
	runDir, err := s.Path(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(runDir)
}
