package ledger

import (
	"errors"
	"fmt"

	"textbook-backend/internal/audit"
	"textbook-backend/internal/auth"
	"textbook-backend/internal/database"
	"textbook-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type UpsertStockRequest struct {
	BookID   uint  `json:"book_id"`
	Quantity int64 `json:"quantity"`
	// State admin may correct any pool; other roles are pinned to their own.
	Level     models.Level `json:"level"`
	OwnerCode string       `json:"owner_code"`
}

type StockEntryResponse struct {
	ID        uint         `json:"id"`
	Level     models.Level `json:"level"`
	OwnerCode string       `json:"owner_code"`
	BookID    uint         `json:"book_id"`
	BookTitle string       `json:"book_title"`
	Quantity  int64        `json:"quantity"`
	UpdatedAt string       `json:"updated_at"`
}

func getUserInfo(c *fiber.Ctx) (uint, string, error) {
	userIDVal := c.Locals(auth.CtxUserIDKey)
	userID, ok := userIDVal.(uint)
	if !ok {
		return 0, "", fiber.NewError(fiber.StatusForbidden, "User information missing")
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		return 0, "", fiber.NewError(fiber.StatusInternalServerError, "User not found")
	}

	return userID, user.Name, nil
}

// resolveScope pins non-state roles to their own (level, owner); a state
// admin may name any pool, defaulting to the state pool.
func resolveScope(c *fiber.Ctx, bodyLevel models.Level, bodyOwner string) (models.Level, string, error) {
	roleVal := c.Locals(auth.CtxUserRoleKey)
	role, ok := roleVal.(models.UserRole)
	if !ok {
		return "", "", fiber.NewError(fiber.StatusForbidden, "Role information missing")
	}

	if role != models.RoleStateAdmin {
		return auth.Scope(c)
	}

	if bodyLevel == "" {
		return models.LevelState, models.StateOwnerCode, nil
	}
	if bodyOwner == "" {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "owner_code is required with level")
	}
	return bodyLevel, bodyOwner, nil
}

// GET /api/stock?level=DISTRICT&owner_code=D045&book_id=3
func ListStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		roleVal := c.Locals(auth.CtxUserRoleKey)
		role, ok := roleVal.(models.UserRole)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Role information missing")
		}

		level := models.Level(c.Query("level"))
		owner := c.Query("owner_code")
		if role != models.RoleStateAdmin {
			// Non-state users read their own pool only.
			l, o, err := auth.Scope(c)
			if err != nil {
				return err
			}
			level, owner = l, o
		}

		var bookID uint
		if s := c.Query("book_id"); s != "" {
			if _, err := fmt.Sscan(s, &bookID); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid book_id")
			}
		}

		entries, err := List(database.DB, level, owner, bookID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list stock")
		}

		resp := make([]StockEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, StockEntryResponse{
				ID:        e.ID,
				Level:     e.Level,
				OwnerCode: e.OwnerCode,
				BookID:    e.BookID,
				BookTitle: e.Book.Title,
				Quantity:  e.Quantity,
				UpdatedAt: e.UpdatedAt.Format("2006-01-02 15:04:05"),
			})
		}

		return c.JSON(resp)
	}
}

// POST /api/stock/upsert
// Manual "received" correction. Never reduces a pool.
func UpsertStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body UpsertStockRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		if body.BookID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "book_id is required")
		}
		if body.Quantity < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "quantity cannot be negative")
		}

		level, owner, err := resolveScope(c, body.Level, body.OwnerCode)
		if err != nil {
			return err
		}

		var book models.Book
		if err := database.DB.First(&book, "id = ?", body.BookID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Book not found")
		}

		before, err := Get(database.DB, level, owner, body.BookID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not read stock")
		}

		newQty, err := Upsert(database.DB, level, owner, body.BookID, body.Quantity)
		if errors.Is(err, ErrUpsertDecrease) {
			return fiber.NewError(fiber.StatusConflict, "Correction below current stock; stock only leaves through a challan")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update stock")
		}

		if newQty != before {
			userID, userName, uerr := getUserInfo(c)
			if uerr == nil {
				_ = audit.WriteLog(audit.LogOptions{
					Level:       level,
					OwnerCode:   owner,
					UserID:      userID,
					UserName:    userName,
					EntityType:  "stock_entry",
					EntityID:    body.BookID,
					Action:      models.AuditActionUpdate,
					Description: fmt.Sprintf("Stock correction: %s %d -> %d", book.Title, before, newQty),
					Before:      fiber.Map{"quantity": before},
					After:       fiber.Map{"quantity": newQty},
				})
			}
		}

		return c.JSON(fiber.Map{
			"level":      level,
			"owner_code": owner,
			"book_id":    body.BookID,
			"quantity":   newQty,
		})
	}
}
