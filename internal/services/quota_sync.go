package services

import (
	"errors"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/beatvault/backend/internal/models"
)

const (
	bytesPerGiga      = int64(1) << 30
	defaultQuotaBytes = 500 * bytesPerGiga
)

// QuotaSyncService reconciles quota limits and tallies with the billing
// tables. Active users get their plan-derived limit; lapsed users get their
// tally pushed to the limit so the transfer server stops serving them.
type QuotaSyncService struct {
	db           *gorm.DB
	syncInterval time.Duration
	stopChan     chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	isRunning    bool
	syncMu       sync.Mutex // prevents overlapping sync runs
}

// NewQuotaSyncService creates a new quota sync service
func NewQuotaSyncService(db *gorm.DB, interval time.Duration) *QuotaSyncService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &QuotaSyncService{
		db:           db,
		syncInterval: interval,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the periodic quota sync
func (s *QuotaSyncService) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	log.Printf("QuotaSync: started (interval: %v)", s.syncInterval)
}

// Stop stops the service
func (s *QuotaSyncService) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Println("QuotaSync: stopped")
}

func (s *QuotaSyncService) run() {
	defer s.wg.Done()

	// Run immediately on startup
	s.syncOnce()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.syncOnce()
		}
	}
}

// syncOnce performs one full reconciliation pass. Idempotent: every write is
// a derived value, so repeated passes converge.
func (s *QuotaSyncService) syncOnce() {
	if !s.syncMu.TryLock() {
		log.Println("QuotaSync: previous sync still running, skipping")
		return
	}
	defer s.syncMu.Unlock()

	start := time.Now()

	// Newest active subscription per user
	var subs []models.Subscription
	if err := s.db.Where("date_end >= ?", start).Order("date_end DESC").Find(&subs).Error; err != nil {
		log.Printf("QuotaSync: failed to load subscriptions: %v", err)
		return
	}
	newestByUser := make(map[uint]models.Subscription, len(subs))
	for _, sub := range subs {
		if _, ok := newestByUser[sub.UserID]; !ok {
			newestByUser[sub.UserID] = sub
		}
	}

	var accounts []models.Account
	if err := s.db.Find(&accounts).Error; err != nil {
		log.Printf("QuotaSync: failed to load accounts: %v", err)
		return
	}

	var synced, lapsed, skipped int
	for _, account := range accounts {
		sub, active := newestByUser[account.UserID]
		if !active {
			if s.expireAccount(account) {
				lapsed++
			} else {
				skipped++
			}
			continue
		}
		if s.syncActiveAccount(account, sub) {
			synced++
		} else {
			skipped++
		}
	}

	log.Printf("QuotaSync: completed in %v (%d synced, %d lapsed, %d skipped)",
		time.Since(start).Round(time.Millisecond), synced, lapsed, skipped)
}

// expireAccount pushes a lapsed account's tally to or above its limit so no
// further transfer is allowed. Accounts that never had a tally or limit have
// nothing to expire.
func (s *QuotaSyncService) expireAccount(account models.Account) bool {
	var tally models.QuotaTally
	if err := s.db.Where("name = ?", account.Name).First(&tally).Error; err != nil {
		log.Printf("QuotaSync: no tally for lapsed account %s, skipping", account.Name)
		return false
	}

	var limit models.QuotaLimit
	if err := s.db.Where("name = ?", account.Name).First(&limit).Error; err != nil {
		log.Printf("QuotaSync: no limit for lapsed account %s, skipping", account.Name)
		return false
	}

	if tally.BytesOutUsed >= limit.BytesOutAvail {
		return true
	}

	err := s.db.Model(&models.QuotaTally{}).Where("name = ?", account.Name).
		Update("bytes_out_used", limit.BytesOutAvail).Error
	if err != nil {
		log.Printf("QuotaSync: failed to expire account %s: %v", account.Name, err)
		return false
	}
	return true
}

// syncActiveAccount derives the account's limit from its plan and makes sure
// a tally row exists. An existing tally's used bytes are never touched.
func (s *QuotaSyncService) syncActiveAccount(account models.Account, sub models.Subscription) bool {
	var order models.Order
	if err := s.db.First(&order, "id = ?", sub.OrderID).Error; err != nil {
		log.Printf("QuotaSync: order %d missing for account %s, skipping", sub.OrderID, account.Name)
		return false
	}

	var plan models.Plan
	if err := s.db.First(&plan, "id = ?", order.PlanID).Error; err != nil {
		log.Printf("QuotaSync: plan %d missing for account %s, skipping", order.PlanID, account.Name)
		return false
	}

	limitBytes := defaultQuotaBytes
	if plan.Gigas > 0 {
		limitBytes = plan.Gigas * bytesPerGiga
	}

	var limit models.QuotaLimit
	err := s.db.Where("name = ?", account.Name).First(&limit).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		limit = models.QuotaLimit{
			Name:          account.Name,
			BytesOutAvail: limitBytes,
			QuotaType:     models.QuotaTypeMonthly,
		}
		if err := s.db.Create(&limit).Error; err != nil {
			log.Printf("QuotaSync: failed to create limit for %s: %v", account.Name, err)
			return false
		}
	case err != nil:
		log.Printf("QuotaSync: failed to load limit for %s: %v", account.Name, err)
		return false
	case limit.BytesOutAvail != limitBytes:
		if err := s.db.Model(&limit).Update("bytes_out_avail", limitBytes).Error; err != nil {
			log.Printf("QuotaSync: failed to update limit for %s: %v", account.Name, err)
			return false
		}
	}

	var tally models.QuotaTally
	if err := s.db.Where("name = ?", account.Name).First(&tally).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		tally = models.QuotaTally{
			Name:          account.Name,
			BytesOutUsed:  0,
			LastRenewedAt: time.Now(),
		}
		if err := s.db.Create(&tally).Error; err != nil {
			log.Printf("QuotaSync: failed to create tally for %s: %v", account.Name, err)
			return false
		}
	} else if err != nil {
		log.Printf("QuotaSync: failed to load tally for %s: %v", account.Name, err)
		return false
	}

	return true
}
