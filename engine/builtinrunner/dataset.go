// Package builtinrunner implements the in-process builtin node algorithms
// (C7, spec.md §4.6): DataLoader, Indicator, CrossoverSignal, Backtest,
// FeatureGenerator and Labeling.
package builtinrunner

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

// DatasetDescriptor describes one dataset the provider can resolve
// (spec.md §6 "Dataset provider interface").
type DatasetDescriptor struct {
	Name string
	Path string
}

// DatasetProvider resolves symbolic dataset names to files for the builtin
// DataLoader. The sandbox runner does not use it; it is given the datasets
// directory itself and mounts that read-only into each container.
type DatasetProvider interface {
	Resolve(symbolicName string) (string, error)
	List() ([]DatasetDescriptor, error)
}

// FilesystemDatasetProvider resolves dataset names as files under Root.
type FilesystemDatasetProvider struct {
	Root string
}

// Resolve implements DatasetProvider.
func (p *FilesystemDatasetProvider) Resolve(symbolicName string) (string, error) {
	path := filepath.Join(p.Root, symbolicName)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("dataset %q not found under %s: %w", symbolicName, p.Root, err)
	}
	return path, nil
}

// List implements DatasetProvider.
func (p *FilesystemDatasetProvider) List() ([]DatasetDescriptor, error) {
	entries, err := os.ReadDir(p.Root)
	if err != nil {
		return nil, fmt.Errorf("list datasets under %s: %w", p.Root, err)
	}
	var out []DatasetDescriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, DatasetDescriptor{Name: e.Name(), Path: filepath.Join(p.Root, e.Name())})
	}
	return out, nil
}

// columnAliases maps known alternate header names to the canonical OHLCV
// column name (spec.md §6 "the loader maps known aliases (ts -> timestamp)").
var columnAliases = map[string]string{
	"ts":     "timestamp",
	"date":   "timestamp",
	"time":   "timestamp",
	"o":      "open",
	"h":      "high",
	"l":      "low",
	"c":      "close",
	"v":      "volume",
	"vol":    "volume",
}

func canonicalColumn(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := columnAliases[lower]; ok {
		return canon
	}
	return lower
}

// loadDataframe reads a dataset file (CSV or JSON), renaming known header
// aliases to the canonical OHLCV column names. Other columns are kept
// under their lower-cased names; no projection is applied.
func loadDataframe(path string) (*engine.Dataframe, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return loadCSV(path)
	case ".json":
		return loadJSON(path)
	case ".parquet":
		return nil, fmt.Errorf("parquet datasets are not supported in this build: no parquet reader is wired in")
	default:
		return nil, fmt.Errorf("unsupported dataset extension %q", ext)
	}
}

func loadCSV(path string) (*engine.Dataframe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	canonical := make([]string, len(header))
	for i, h := range header {
		canonical[i] = canonicalColumn(h)
	}

	df := &engine.Dataframe{Columns: append([]string(nil), canonical...), Metadata: map[string]any{"source": path}}
	for {
		record, err := r.Read()
		if err != nil {
			break // io.EOF or the first row the CSV reader rejects ends the loop; that row and any after it are not loaded
		}
		ts, row, err := parseRecord(canonical, record)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		df.Timestamps = append(df.Timestamps, ts)
		df.Rows = append(df.Rows, row)
	}
	return df, nil
}

func parseRecord(columns []string, record []string) (time.Time, engine.Row, error) {
	row := make(engine.Row, len(columns))
	var ts time.Time
	for i, col := range columns {
		if i >= len(record) {
			continue
		}
		if col == "timestamp" {
			parsed, err := parseTimestamp(record[i])
			if err != nil {
				return time.Time{}, nil, err
			}
			ts = parsed
			continue
		}
		v, err := strconv.ParseFloat(record[i], 64)
		if err != nil {
			continue // non-numeric extra columns are ignored, not fatal
		}
		row[col] = v
	}
	return ts, row, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", s)
}

type jsonRow map[string]any

func loadJSON(path string) (*engine.Dataframe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	var raw []jsonRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	columnSet := make(map[string]bool)
	df := &engine.Dataframe{Metadata: map[string]any{"source": path}}
	for _, rawRow := range raw {
		row := make(engine.Row)
		var ts time.Time
		for k, v := range rawRow {
			col := canonicalColumn(k)
			if col == "timestamp" {
				switch tv := v.(type) {
				case string:
					parsed, err := parseTimestamp(tv)
					if err != nil {
						return nil, fmt.Errorf("%s: %w", path, err)
					}
					ts = parsed
				case float64:
					ts = time.Unix(int64(tv), 0).UTC()
				}
				continue
			}
			if f, ok := v.(float64); ok {
				row[col] = f
				columnSet[col] = true
			}
		}
		df.Timestamps = append(df.Timestamps, ts)
		df.Rows = append(df.Rows, row)
	}
	columns := make([]string, 0, len(columnSet))
	for c := range columnSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	df.Columns = append([]string{"timestamp"}, columns...)
	return df, nil
}
