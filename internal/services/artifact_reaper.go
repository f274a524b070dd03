package services

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/beatvault/backend/internal/models"
	"github.com/beatvault/backend/internal/storage"
)

const reaperBatchSize = 500

// ArtifactReaperService deletes expired artifacts. Files go first, records
// last, so a crash mid-sweep leaves a record pointing at a missing file
// rather than an orphaned file nothing tracks.
type ArtifactReaperService struct {
	db            *gorm.DB
	artifactsDir  string
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	isRunning     bool
	sweepMu       sync.Mutex // prevents overlapping sweeps
}

// NewArtifactReaperService creates a new reaper service
func NewArtifactReaperService(db *gorm.DB, artifactsDir string, interval time.Duration) *ArtifactReaperService {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &ArtifactReaperService{
		db:            db,
		artifactsDir:  artifactsDir,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the periodic sweeps
func (s *ArtifactReaperService) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	log.Printf("ArtifactReaper: started (interval: %v)", s.checkInterval)
}

// Stop stops the service
func (s *ArtifactReaperService) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Println("ArtifactReaper: stopped")
}

func (s *ArtifactReaperService) run() {
	defer s.wg.Done()

	// Run immediately on startup
	s.sweepOnce()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// sweepOnce deletes one batch of expired artifacts. A record whose file
// cannot be removed is kept for retry on the next sweep; a file that is
// already gone does not block record deletion.
func (s *ArtifactReaperService) sweepOnce() {
	if !s.sweepMu.TryLock() {
		log.Println("ArtifactReaper: previous sweep still running, skipping")
		return
	}
	defer s.sweepMu.Unlock()

	var expired []models.ArtifactRecord
	err := s.db.Where("expires_at <= ?", time.Now()).
		Order("expires_at ASC").
		Limit(reaperBatchSize).
		Find(&expired).Error
	if err != nil {
		log.Printf("ArtifactReaper: failed to load expired records: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	var deleted, missing, failed int
	for _, record := range expired {
		name := storage.ArtifactFileName(record.DirName, record.AccountID, record.JobID)
		path := filepath.Join(s.artifactsDir, name)

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				log.Printf("ArtifactReaper: %s already gone", name)
				missing++
			} else {
				log.Printf("ArtifactReaper: failed to delete %s, keeping record for retry: %v", name, err)
				failed++
				continue
			}
		} else {
			deleted++
		}

		if err := s.db.Delete(&models.ArtifactRecord{}, "id = ?", record.ID).Error; err != nil {
			log.Printf("ArtifactReaper: failed to delete record %d: %v", record.ID, err)
			failed++
		}
	}

	log.Printf("ArtifactReaper: swept %d expired (%d files deleted, %d already gone, %d errors)",
		len(expired), deleted, missing, failed)
}
