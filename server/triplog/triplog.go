// Package triplog persists one CSV row per tick and backfills advisory
// results into previously written rows by key. The header grows as new
// fields appear; rewrites go through a temp file and an atomic rename.
package triplog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Log is the trip CSV writer. All operations serialize on one mutex: the
// tick loop is the main writer and the orchestrator callback backfills rows,
// so contention is negligible.
type Log struct {
	mu     sync.Mutex
	path   string
	header []string
	tripID string
	logger *zap.Logger
}

// New creates a trip log file named after the current UTC time inside dir.
func New(dir string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trip dir: %w", err)
	}

	ts := time.Now().UTC().Format("2006-01-02_15-04-05")
	path := filepath.Join(dir, ts+"_trip.csv")

	l := &Log{
		path:   path,
		tripID: uuid.NewString(),
		logger: logger,
	}
	logger.Info("trip log created", zap.String("path", path), zap.String("trip_id", l.tripID))
	return l, nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// TripID returns the session identifier stamped on every row.
func (l *Log) TripID() string { return l.tripID }

// Append writes one row. Nested maps are flattened with dot keys and new
// fields widen the header, which forces a rewrite of the file with the
// extended column set.
func (l *Log) Append(row map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	flat := Flatten(row)
	flat["trip_id"] = l.tripID

	added := l.extendHeader(flat)
	if added {
		rows, err := l.readRows()
		if err != nil {
			return err
		}
		rows = append(rows, l.serializeRow(flat))
		return l.writeAll(rows)
	}

	// Fast path: header unchanged, append in place.
	created := false
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		created = true
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trip log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if created {
		if err := w.Write(l.header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(l.serializeRow(flat)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// UpdateRowByKey backfills fields into the row whose keyCol cell equals
// keyVal. Returns false when no such row exists yet; the caller may retry
// once the row has been written.
func (l *Log) UpdateRowByKey(keyCol string, keyVal any, updates map[string]any) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readRows()
	if err != nil {
		return false, err
	}
	keyIdx := l.columnIndex(keyCol)
	if keyIdx < 0 {
		return false, nil
	}

	want := serializeValue(keyVal)
	found := -1
	for i, rec := range rows {
		if keyIdx < len(rec) && rec[keyIdx] == want {
			found = i
			break
		}
	}
	if found < 0 {
		return false, nil
	}

	flat := Flatten(updates)
	l.extendHeader(flat)

	// Re-pad every record to the (possibly widened) header.
	for i := range rows {
		for len(rows[i]) < len(l.header) {
			rows[i] = append(rows[i], "")
		}
	}
	for k, v := range flat {
		rows[found][l.columnIndex(k)] = serializeValue(v)
	}
	if err := l.writeAll(rows); err != nil {
		return false, err
	}
	return true, nil
}

// extendHeader adds any unseen keys in sorted order and reports whether the
// header grew.
func (l *Log) extendHeader(flat map[string]any) bool {
	known := make(map[string]bool, len(l.header))
	for _, h := range l.header {
		known[h] = true
	}
	var missing []string
	for k := range flat {
		if !known[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return false
	}
	sort.Strings(missing)
	l.header = append(l.header, missing...)
	return true
}

func (l *Log) columnIndex(name string) int {
	for i, h := range l.header {
		if h == name {
			return i
		}
	}
	return -1
}

// readRows loads the data records (header excluded), padded to the current
// header width.
func (l *Log) readRows() ([][]string, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open trip log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read trip log: %w", err)
	}
	if len(all) <= 1 {
		return nil, nil
	}
	return all[1:], nil
}

// writeAll rewrites the file with the current header via a temp file and an
// atomic rename.
func (l *Log) writeAll(rows [][]string) error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".trip_*.csv")
	if err != nil {
		return fmt.Errorf("create temp trip log: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := csv.NewWriter(tmp)
	if err := w.Write(l.header); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range rows {
		for len(rec) < len(l.header) {
			rec = append(rec, "")
		}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, l.path)
}

func (l *Log) serializeRow(flat map[string]any) []string {
	rec := make([]string, len(l.header))
	for i, col := range l.header {
		if v, ok := flat[col]; ok {
			rec[i] = serializeValue(v)
		}
	}
	return rec
}

// Flatten expands nested maps into dot-joined keys.
func Flatten(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	flattenInto(out, "", row)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// serializeValue renders scalars directly and JSON-encodes everything else.
func serializeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return fmt.Sprintf("%t", t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", t), "0"), ".")
	case float32:
		return serializeValue(float64(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
