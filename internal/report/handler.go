package report

import (
	"fmt"
	"time"

	"textbook-backend/internal/auth"
	"textbook-backend/internal/database"
	"textbook-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// resolveScope pins non-state roles to their own node; a state admin may
// ask for any node, defaulting to the state scope.
func resolveScope(c *fiber.Ctx) (models.Level, string, error) {
	roleVal := c.Locals(auth.CtxUserRoleKey)
	role, ok := roleVal.(models.UserRole)
	if !ok {
		return "", "", fiber.NewError(fiber.StatusForbidden, "Role information missing")
	}

	if role != models.RoleStateAdmin {
		return auth.Scope(c)
	}

	level := models.Level(c.Query("level"))
	owner := c.Query("owner_code")
	if level == "" {
		return models.LevelState, models.StateOwnerCode, nil
	}
	if owner == "" {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "owner_code is required with level")
	}
	return level, owner, nil
}

func buildForRequest(c *fiber.Ctx, academicYear string) (*Summary, error) {
	level, owner, err := resolveScope(c)
	if err != nil {
		return nil, err
	}

	year := c.Query("academic_year")
	if year == "" {
		year = academicYear
	}

	s, err := Build(database.DB, level, owner, year)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not build reconciliation report")
	}
	return s, nil
}

// GET /api/reports/reconciliation?level=DISTRICT&owner_code=D045
func ReconciliationHandler(academicYear string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := buildForRequest(c, academicYear)
		if err != nil {
			return err
		}
		return c.JSON(s)
	}
}

// GET /api/reports/reconciliation/xlsx — same rollup as a downloadable
// workbook.
func ReconciliationXLSXHandler(academicYear string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := buildForRequest(c, academicYear)
		if err != nil {
			return err
		}

		buf, err := ExportXLSX(s)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not render workbook")
		}

		filename := fmt.Sprintf("reconciliation_%s_%s_%s.xlsx",
			s.Level, s.OwnerCode, time.Now().Format("20060102"))
		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
		return c.Send(buf.Bytes())
	}
}
