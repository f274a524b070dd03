package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/beatvault/backend/internal/archive"
	"github.com/beatvault/backend/internal/config"
	"github.com/beatvault/backend/internal/models"
	"github.com/beatvault/backend/internal/queue"
	"github.com/beatvault/backend/internal/storage"
)

// DownloadHandler serves archival job submission, status and cancellation.
type DownloadHandler struct {
	db    *gorm.DB
	queue *queue.Manager
	cfg   *config.Config
}

func NewDownloadHandler(db *gorm.DB, q *queue.Manager, cfg *config.Config) *DownloadHandler {
	return &DownloadHandler{db: db, queue: q, cfg: cfg}
}

type submitRequest struct {
	Path      string `json:"path"`
	AccountID uint   `json:"account_id"`
}

// Submit handles POST /api/downloads. It validates the requested directory,
// checks the account's remaining quota, pre-charges the estimated size and
// hands the job to the worker pool. If a live artifact for the same
// directory already exists it is returned instead of re-compressing.
func (h *DownloadHandler) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if req.Path == "" || req.AccountID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "path and account_id are required",
		})
	}

	var account models.Account
	if err := h.db.First(&account, "id = ?", req.AccountID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Account not found",
		})
	}

	sourcePath, err := storage.ResolveWithinRoot(h.cfg.MediaRoot, req.Path)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid path",
		})
	}
	info, err := os.Stat(sourcePath)
	if err != nil || !info.IsDir() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Directory not found",
		})
	}
	dirName := filepath.Base(sourcePath)

	// A bounded slice of the job budget; a tree we cannot even walk in
	// that time is not worth queueing.
	estimateBudget := h.cfg.JobTimeout / 4
	if estimateBudget <= 0 {
		estimateBudget = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), estimateBudget)
	defer cancel()

	size, err := archive.DirSize(ctx, sourcePath)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to estimate directory size",
		})
	}

	var limit models.QuotaLimit
	if err := h.db.First(&limit, "name = ?", account.Name).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Account has no quota provisioned",
		})
	}
	var tally models.QuotaTally
	if err := h.db.First(&tally, "name = ?", account.Name).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Account has no quota provisioned",
		})
	}
	if size > limit.BytesOutAvail-tally.BytesOutUsed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Insufficient quota for this download",
		})
	}

	// Reuse a live artifact of the same directory instead of re-compressing
	var existing models.ArtifactRecord
	err = h.db.Where("account_id = ? AND dir_name = ? AND expires_at > ?",
		account.ID, dirName, time.Now()).
		Order("expires_at DESC").First(&existing).Error
	if err == nil {
		return c.JSON(fiber.Map{
			"success": true,
			"job_id":  existing.JobID,
			"reused":  true,
		})
	}

	// Pre-charge the estimate; the failure path refunds it
	err = h.db.Model(&models.QuotaTally{}).Where("name = ?", account.Name).
		Update("bytes_out_used", gorm.Expr("bytes_out_used + ?", size)).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to reserve quota",
		})
	}

	job, err := h.queue.Enqueue(dirName, sourcePath, account.ID, account.Name, size)
	if err != nil {
		h.refund(account.Name, size)
		switch {
		case errors.Is(err, queue.ErrAccountBusy):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"message": "A download for this account is already in progress",
			})
		case errors.Is(err, queue.ErrQueueFull):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"message": "Download queue is full, try again later",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "Failed to queue download",
			})
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"job_id":  job.ID,
	})
}

func (h *DownloadHandler) refund(accountName string, size int64) {
	err := h.db.Exec(
		"UPDATE quota_tallies SET bytes_out_used = CASE WHEN bytes_out_used > ? THEN bytes_out_used - ? ELSE 0 END WHERE name = ?",
		size, size, accountName,
	).Error
	if err != nil {
		log.Printf("Downloads: failed to refund quota for %s: %v", accountName, err)
	}
}

// Status handles GET /api/downloads/jobs/:id. Live jobs answer from the
// queue's in-memory state; finished jobs fall back to the audit row, so
// status survives a restart.
func (h *DownloadHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")

	var status models.JobStatus
	var progress int
	var errMsg string

	if job, ok := h.queue.Get(id); ok {
		status = job.Status()
		progress = job.Progress()
		errMsg = job.Err()
	} else {
		var row models.Job
		if err := h.db.First(&row, "id = ?", id).Error; err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Job not found",
			})
		}
		status = row.Status
		progress = row.Progress
		errMsg = row.Error
	}

	resp := fiber.Map{
		"success": true,
		"job_id":  id,
		"status":  status,
	}
	if progress == queue.ProgressIndeterminate {
		resp["progress"] = "indeterminate"
	} else {
		resp["progress"] = progress
	}
	if errMsg != "" {
		resp["error"] = errMsg
	}

	if status == models.JobStatusCompleted {
		var record models.ArtifactRecord
		if err := h.db.First(&record, "job_id = ?", id).Error; err == nil && record.ExpiresAt.After(time.Now()) {
			token, err := signDownloadToken(h.cfg.DownloadTokenSecret, record.JobID, record.DirName, record.AccountID, record.ExpiresAt)
			if err == nil {
				resp["download_url"] = fmt.Sprintf("/download-dir?dirName=%s&jobId=%s&token=%s",
					url.QueryEscape(record.DirName), url.QueryEscape(record.JobID), url.QueryEscape(token))
				resp["expires_at"] = record.ExpiresAt
			}
		}
	}

	return c.JSON(resp)
}

// Cancel handles DELETE /api/downloads/jobs/:id.
func (h *DownloadHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")

	switch err := h.queue.Cancel(id); {
	case err == nil:
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Cancellation requested",
		})
	case errors.Is(err, queue.ErrUnknownJob):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Job not found",
		})
	case errors.Is(err, queue.ErrJobFinished):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": "Job already finished",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to cancel job",
		})
	}
}
