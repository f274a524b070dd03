package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/beatvault/backend/internal/models"
)

// QuotaHandler exposes the per-account quota view the transfer server
// enforces against.
type QuotaHandler struct {
	db *gorm.DB
}

func NewQuotaHandler(db *gorm.DB) *QuotaHandler {
	return &QuotaHandler{db: db}
}

// Get handles GET /api/accounts/:name/quota.
func (h *QuotaHandler) Get(c *fiber.Ctx) error {
	name := c.Params("name")

	var limit models.QuotaLimit
	if err := h.db.First(&limit, "name = ?", name).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Account has no quota provisioned",
		})
	}

	var used int64
	var tally models.QuotaTally
	if err := h.db.First(&tally, "name = ?", name).Error; err == nil {
		used = tally.BytesOutUsed
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"name":            limit.Name,
		"quota_type":      limit.QuotaType,
		"bytes_out_avail": limit.BytesOutAvail,
		"bytes_out_used":  used,
	})
}
