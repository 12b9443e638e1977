// Package scheduler runs the daily maintenance of the login server:
// pruning old session history and reporting dump directory usage.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/loginserver/internal/config"
)

// SessionPruner is the part of the session store the scheduler maintains.
type SessionPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (total, open int64, err error)
}

// Report summarizes one maintenance run.
type Report struct {
	PrunedSessions int64
	TotalSessions  int64
	OpenSessions   int64
	DumpFiles      int
	DumpBytes      int64
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	sessions SessionPruner
	now      func() time.Time
}

// NewScheduler creates a new task scheduler. sessions may be nil.
func NewScheduler(cfg *config.Config, sessions SessionPruner) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		sessions: sessions,
		now:      time.Now,
	}
}

// Start runs the maintenance loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Str("cleanup_time", s.cfg.Database.CleanupTime).Msg("scheduler started")

	for {
		nextRun := s.nextRun(s.now())
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Debug().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("maintenance scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance prunes expired sessions and measures the dump directory.
func (s *Scheduler) RunMaintenance(ctx context.Context) Report {
	var report Report

	if s.sessions != nil {
		if days := s.cfg.Database.RetentionDays; days > 0 {
			cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
			pruned, err := s.sessions.Prune(ctx, cutoff)
			if err != nil {
				log.Warn().Err(err).Msg("session pruning failed")
			}
			report.PrunedSessions = pruned
		}

		total, open, err := s.sessions.Count(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("session count failed")
		}
		report.TotalSessions, report.OpenSessions = total, open
	}

	if s.cfg.Dump.Enabled {
		report.DumpFiles, report.DumpBytes = directorySize(s.cfg.Dump.Directory)
	}

	log.Info().
		Int64("pruned_sessions", report.PrunedSessions).
		Int64("total_sessions", report.TotalSessions).
		Int64("open_sessions", report.OpenSessions).
		Int("dump_files", report.DumpFiles).
		Str("dump_size", formatBytes(report.DumpBytes)).
		Msg("maintenance completed")

	return report
}

// nextRun returns the next occurrence of the configured cleanup time after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	hour, minute, ok := config.ParseClock(s.cfg.Database.CleanupTime)
	if !ok {
		hour, minute = 4, 0
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func directorySize(dir string) (files int, size int64) {
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
