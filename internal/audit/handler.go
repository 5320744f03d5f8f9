package audit

import (
	"pantry-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuditLogResponse struct {
	ID          uint   `json:"id"`
	CreatedAt   string `json:"created_at"`
	EntityType  string `json:"entity_type"`
	EntityID    uint   `json:"entity_id"`
	Action      string `json:"action"`
	Description string `json:"description"`
	OperationID string `json:"operation_id,omitempty"`
}

// GET /api/audit-logs?entity_type=stock_entry&entity_id=1&operation_id=...
func ListAuditLogsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := auth.UserID(c)
		if err != nil {
			return err
		}

		logs, err := List(c.UserContext(), db, Filter{
			UserID:      userID,
			EntityType:  c.Query("entity_type"),
			EntityID:    uint(c.QueryInt("entity_id", 0)),
			OperationID: c.Query("operation_id"),
			Limit:       c.QueryInt("limit", 100),
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list audit logs")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, log := range logs {
			resp = append(resp, AuditLogResponse{
				ID:          log.ID,
				CreatedAt:   log.CreatedAt.Format("2006-01-02 15:04:05"),
				EntityType:  log.EntityType,
				EntityID:    log.EntityID,
				Action:      string(log.Action),
				Description: log.Description,
				OperationID: log.OperationID,
			})
		}
		return c.JSON(resp)
	}
}
