package locations

import (
	"fmt"
	"strings"

	"formbase/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// parentLookupChunkSize bounds the IN-clause size of the second import pass.
const parentLookupChunkSize = 500

// StagedUnit is one parsed staging-CSV row.
type StagedUnit struct {
	InstanceKey string
	UID         string
	Name        string
	Path        string
	Level       int
	ParentUID   string
}

// ImportResult summarises one import transaction.
type ImportResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// Store owns the locations table: triple-keyed inserts and parent-link
// resolution. It never deletes rows.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a location store over the given database handle.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ImportStaged imports staged rows in a single transaction, in two passes:
//
//  1. insert-or-skip keyed on (instance_key, uid, path) — append-only, a unit
//     observed at a new path becomes a second row, never an overwrite;
//  2. parent_id resolution for every row with a parent_uid, batched in
//     chunks of 500 uids.
//
// Pass ordering guarantees that a child's parent row exists before the link
// is attempted, whenever the parent is part of the same batch. Any failure
// rolls the whole import back; partial imports never become visible.
func (s *Store) ImportStaged(rows []StagedUnit) (*ImportResult, error) {
	result := &ImportResult{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i, row := range rows {
			if row.InstanceKey == "" || row.UID == "" {
				return fmt.Errorf("invalid staged row %d: instance key and uid are required", i+1)
			}

			level := row.Level
			if level <= 0 {
				level = pathDepth(row.Path)
			}
			if level <= 0 {
				return fmt.Errorf("invalid staged row %d (%s): no level and no usable path", i+1, row.UID)
			}

			var count int64
			if err := tx.Model(&models.Location{}).
				Where("instance_key = ? AND uid = ? AND path = ?", row.InstanceKey, row.UID, row.Path).
				Count(&count).Error; err != nil {
				return fmt.Errorf("existence check failed for %s: %w", row.UID, err)
			}
			if count > 0 {
				// Current policy: an unchanged triple is skipped, not refreshed.
				result.Skipped++
				continue
			}

			loc := models.Location{
				InstanceKey: row.InstanceKey,
				UID:         row.UID,
				Name:        row.Name,
				Path:        row.Path,
				Level:       level,
				ParentUID:   row.ParentUID,
			}
			if err := tx.Create(&loc).Error; err != nil {
				return fmt.Errorf("insert failed for %s: %w", row.UID, err)
			}
			result.Inserted++
		}

		return s.resolveParents(tx, rows)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveParents is the second import pass: link rows to their parents by
// (instance_key, uid). When duplicate rows share that pair (path variants),
// the update hits all of them identically — known limitation, logged.
func (s *Store) resolveParents(tx *gorm.DB, rows []StagedUnit) error {
	parentUIDs := make(map[string][]string) // instance key -> unique parent uids
	seen := make(map[string]bool)
	for _, row := range rows {
		if row.ParentUID == "" {
			continue
		}
		key := row.InstanceKey + "/" + row.ParentUID
		if !seen[key] {
			seen[key] = true
			parentUIDs[row.InstanceKey] = append(parentUIDs[row.InstanceKey], row.ParentUID)
		}
	}

	for instanceKey, uids := range parentUIDs {
		idByUID := make(map[string]uint, len(uids))
		dupes := 0

		for start := 0; start < len(uids); start += parentLookupChunkSize {
			end := start + parentLookupChunkSize
			if end > len(uids) {
				end = len(uids)
			}

			var parents []models.Location
			if err := tx.Where("instance_key = ? AND uid IN ?", instanceKey, uids[start:end]).
				Find(&parents).Error; err != nil {
				return fmt.Errorf("parent lookup failed: %w", err)
			}
			for _, p := range parents {
				if _, exists := idByUID[p.UID]; exists {
					dupes++
					continue // keep the first row's id; all duplicates get the same link anyway
				}
				idByUID[p.UID] = p.ID
			}
		}

		if dupes > 0 {
			s.logger.Warn("duplicate (instance, uid) rows during parent resolution; linking all variants identically",
				zap.String("instance_key", instanceKey), zap.Int("duplicates", dupes))
		}

		for _, row := range rows {
			if row.InstanceKey != instanceKey || row.ParentUID == "" {
				continue
			}
			parentID, ok := idByUID[row.ParentUID]
			if !ok {
				// Orphaned reference: parent neither in this batch nor cached
				// earlier. Leave parent_id NULL rather than failing the import.
				continue
			}
			if err := tx.Model(&models.Location{}).
				Where("instance_key = ? AND uid = ?", instanceKey, row.UID).
				Update("parent_id", parentID).Error; err != nil {
				return fmt.Errorf("parent update failed for %s: %w", row.UID, err)
			}
		}
	}

	return nil
}

// UIDNameMap returns uid -> name for the cached locations of one instance,
// restricted to the requested uids. Missing uids are simply absent.
func (s *Store) UIDNameMap(instanceKey string, uids []string) (map[string]string, error) {
	names := make(map[string]string, len(uids))

	for start := 0; start < len(uids); start += parentLookupChunkSize {
		end := start + parentLookupChunkSize
		if end > len(uids) {
			end = len(uids)
		}

		var locs []models.Location
		if err := s.db.Where("instance_key = ? AND uid IN ?", instanceKey, uids[start:end]).
			Find(&locs).Error; err != nil {
			return nil, fmt.Errorf("name lookup failed: %w", err)
		}
		for _, loc := range locs {
			if _, exists := names[loc.UID]; !exists {
				names[loc.UID] = loc.Name
			}
		}
	}

	return names, nil
}

// FindByUID returns all cached path variants of one unit, ordered by id.
func (s *Store) FindByUID(instanceKey, uid string) ([]models.Location, error) {
	var locs []models.Location
	if err := s.db.Where("instance_key = ? AND uid = ?", instanceKey, uid).
		Order("id").Find(&locs).Error; err != nil {
		return nil, err
	}
	return locs, nil
}

// pathDepth counts the uid segments of a materialized path like /A/B/C.
func pathDepth(path string) int {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "/"))
}
