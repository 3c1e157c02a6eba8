package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"formbase/internal/models"
	syncsvc "formbase/internal/services/sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service sweeps leftover staging files on a cron schedule. A staging file
// normally disappears when its job imports; files that outlive their job
// (crashed runs, abandoned jobs) are removed once they pass the age cutoff.
// Files of still-active jobs are never touched.
type Service struct {
	db       *gorm.DB
	staging  *syncsvc.Staging
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewService creates a cleanup service. The schedule uses cron syntax,
// including descriptors like "@every 1h".
func NewService(db *gorm.DB, staging *syncsvc.Staging, maxAge time.Duration, schedule string, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		staging:  staging,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
	}
}

// Start schedules the periodic sweep.
func (s *Service) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.logger.Error("staging sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("staging sweep scheduled",
		zap.String("schedule", s.schedule), zap.Duration("max_age", s.maxAge))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep removes expired staging files whose job is terminal or unknown and
// returns how many were deleted.
func (s *Service) Sweep() (int, error) {
	entries, err := os.ReadDir(s.staging.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read staging dir: %w", err)
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "sync-") || !strings.HasSuffix(name, ".csv") {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		jobID := strings.TrimSuffix(strings.TrimPrefix(name, "sync-"), ".csv")
		if !s.sweepable(jobID) {
			continue
		}

		if err := os.Remove(filepath.Join(s.staging.Dir(), name)); err != nil {
			s.logger.Warn("failed to remove stale staging file", zap.String("file", name), zap.Error(err))
			continue
		}
		removed++
		s.logger.Info("removed stale staging file", zap.String("file", name), zap.String("job_id", jobID))
	}

	return removed, nil
}

func (s *Service) sweepable(jobID string) bool {
	var job models.SyncJob
	if err := s.db.Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true // orphaned file, its job is gone
		}
		s.logger.Warn("failed to load job during sweep", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	return job.Terminal()
}
