package sync

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"formbase/internal/services/locations"
)

var stagingHeader = []string{"instance_key", "uid", "name", "path", "level", "parent_uid"}

// Staging owns the per-job CSV files that hold fetched-but-not-yet-imported
// organisation units. File names embed the job id, so concurrent jobs never
// contend on the same file.
type Staging struct {
	dir string
}

// NewStaging creates a staging area rooted at dir.
func NewStaging(dir string) *Staging {
	return &Staging{dir: dir}
}

// Path returns the staging CSV path for a job.
func (st *Staging) Path(jobID string) string {
	return filepath.Join(st.dir, "sync-"+jobID+".csv")
}

// Dir returns the staging directory.
func (st *Staging) Dir() string {
	return st.dir
}

// Append writes rows to the job's staging file, creating it with a header
// row on first use.
func (st *Staging) Append(jobID string, rows []locations.StagedUnit) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}

	path := st.Path(jobID)
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open staging file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(stagingHeader); err != nil {
			return fmt.Errorf("failed to write staging header: %w", err)
		}
	}
	for _, row := range rows {
		record := []string{row.InstanceKey, row.UID, row.Name, row.Path, strconv.Itoa(row.Level), row.ParentUID}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write staging row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush staging file: %w", err)
	}
	return nil
}

// Read parses the job's staging file. A missing file reads as zero rows:
// a job whose every fetch failed has nothing staged, which is not an error.
// Duplicate rows collapse to the first occurrence of their
// (instance_key, uid, path) triple, so a batch appended twice by a re-driven
// offset does not inflate the import counters.
func (st *Staging) Read(jobID string) ([]locations.StagedUnit, error) {
	f, err := os.Open(st.Path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open staging file: %w", err)
	}
	defer f.Close()

	rows, err := ParseCSV(f)
	if err != nil {
		return nil, err
	}
	return dedupeStaged(rows), nil
}

func dedupeStaged(rows []locations.StagedUnit) []locations.StagedUnit {
	type tripleKey struct {
		instanceKey, uid, path string
	}
	seen := make(map[tripleKey]struct{}, len(rows))
	out := rows[:0]
	for _, row := range rows {
		key := tripleKey{row.InstanceKey, row.UID, row.Path}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

// Remove deletes the job's staging file. Removing an already-gone file is
// not an error.
func (st *Staging) Remove(jobID string) error {
	if err := os.Remove(st.Path(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}
	return nil
}

// ParseCSV reads staged units from r. The header row is required and
// validated; it is shared with the direct-upload path, where each row
// carries its own instance key.
func ParseCSV(r io.Reader) ([]locations.StagedUnit, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("staging csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staging header: %w", err)
	}
	if len(header) != len(stagingHeader) {
		return nil, fmt.Errorf("unexpected staging header: %v", header)
	}
	for i, col := range stagingHeader {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected staging header column %q, want %q", header[i], col)
		}
	}

	var rows []locations.StagedUnit
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read staging row: %w", err)
		}

		level := 0
		if record[4] != "" {
			level, err = strconv.Atoi(record[4])
			if err != nil {
				return nil, fmt.Errorf("invalid level %q for unit %s: %w", record[4], record[1], err)
			}
		}

		rows = append(rows, locations.StagedUnit{
			InstanceKey: record[0],
			UID:         record[1],
			Name:        record[2],
			Path:        record[3],
			Level:       level,
			ParentUID:   record[5],
		})
	}

	return rows, nil
}
