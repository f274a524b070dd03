package handlers

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/beatvault/backend/internal/config"
	"github.com/beatvault/backend/internal/models"
	"github.com/beatvault/backend/internal/storage"
)

// ArtifactHandler streams finished artifacts to token holders.
type ArtifactHandler struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewArtifactHandler(db *gorm.DB, cfg *config.Config) *ArtifactHandler {
	return &ArtifactHandler{db: db, cfg: cfg}
}

// Download handles GET /download-dir?dirName=&jobId=&token=. The token is
// the retrieval credential: it binds the job, the directory and the account,
// and expires with the artifact.
func (h *ArtifactHandler) Download(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	dirName := c.Query("dirName")
	jobID := c.Query("jobId")
	if dirName == "" || jobID == "" || !storage.IsSafeFileName(dirName) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Bad request",
		})
	}

	claims, err := parseDownloadToken(h.cfg.DownloadTokenSecret, token)
	if err != nil || claims.JobID != jobID || claims.DirName != dirName {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	var record models.ArtifactRecord
	if err := h.db.First(&record, "job_id = ?", jobID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Download not found",
		})
	}
	if record.AccountID != claims.AccountID {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}
	if time.Now().After(record.ExpiresAt) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "This download URL has expired",
		})
	}

	fileName := storage.ArtifactFileName(record.DirName, record.AccountID, record.JobID)
	fullPath := filepath.Join(h.cfg.ArtifactsDir, fileName)
	if _, err := os.Stat(fullPath); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Download not found",
		})
	}

	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fileName, url.PathEscape(fileName)))
	return c.SendFile(fullPath)
}
