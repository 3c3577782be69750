package hierarchy

import (
	"errors"
	"fmt"

	"textbook-backend/internal/audit"
	"textbook-backend/internal/auth"
	"textbook-backend/internal/database"
	"textbook-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type DistrictRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type BlockRequest struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	DistrictCode string `json:"district_code"`
}

type SchoolRequest struct {
	UDISE      string                `json:"udise"`
	Name       string                `json:"name"`
	Category   models.SchoolCategory `json:"category"`
	Enrollment int                   `json:"enrollment"`
	BlockCode  string                `json:"block_code"`
}

type SchoolResponse struct {
	ID           uint                  `json:"id"`
	UDISE        string                `json:"udise"`
	Name         string                `json:"name"`
	Category     models.SchoolCategory `json:"category"`
	Enrollment   int                   `json:"enrollment"`
	BlockCode    string                `json:"block_code"`
	BlockName    string                `json:"block_name"`
	DistrictCode string                `json:"district_code"`
	DistrictName string                `json:"district_name"`
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

func writeHierarchyAudit(c *fiber.Ctx, entityType string, entityID uint, action models.AuditAction, description string, before, after interface{}) {
	userID, userName, err := getUserInfo(c)
	if err != nil {
		return
	}
	_ = audit.WriteLog(audit.LogOptions{
		Level:       models.LevelState,
		OwnerCode:   models.StateOwnerCode,
		UserID:      userID,
		UserName:    userName,
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		Description: description,
		Before:      before,
		After:       after,
	})
}

// POST /api/districts (state only)
func CreateDistrictHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body DistrictRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Code == "" || body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "code and name are required")
		}

		district := models.District{Code: body.Code, Name: body.Name}
		if err := database.DB.Create(&district).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fiber.NewError(fiber.StatusConflict, "District code already registered")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create district")
		}

		writeHierarchyAudit(c, "district", district.ID, models.AuditActionCreate,
			fmt.Sprintf("District registered: %s (%s)", district.Name, district.Code), nil, district)
		return c.Status(fiber.StatusCreated).JSON(district)
	}
}

// PUT /api/districts/:id (state only)
// Codes are join keys and never change; names are display data.
func UpdateDistrictHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id uint
		if _, err := fmt.Sscan(c.Params("id"), &id); err != nil || id == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid district id")
		}

		var body DistrictRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name is required")
		}

		var district models.District
		if err := database.DB.First(&district, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "District not found")
		}
		before := district

		district.Name = body.Name
		if err := database.DB.Save(&district).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update district")
		}

		writeHierarchyAudit(c, "district", district.ID, models.AuditActionUpdate,
			fmt.Sprintf("District renamed: %s", district.Code), before, district)
		return c.JSON(district)
	}
}

// GET /api/districts
func ListDistrictsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var districts []models.District
		if err := database.DB.Order("code").Find(&districts).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list districts")
		}
		return c.JSON(districts)
	}
}

// POST /api/blocks (state only)
func CreateBlockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body BlockRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Code == "" || body.Name == "" || body.DistrictCode == "" {
			return fiber.NewError(fiber.StatusBadRequest, "code, name and district_code are required")
		}

		var district models.District
		if err := database.DB.First(&district, "code = ?", body.DistrictCode).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "District not found")
		}

		block := models.Block{Code: body.Code, Name: body.Name, DistrictID: district.ID}
		if err := database.DB.Create(&block).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fiber.NewError(fiber.StatusConflict, "Block code already registered")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create block")
		}

		writeHierarchyAudit(c, "block", block.ID, models.AuditActionCreate,
			fmt.Sprintf("Block registered: %s (%s) under district %s", block.Name, block.Code, district.Code), nil, block)
		return c.Status(fiber.StatusCreated).JSON(block)
	}
}

// PUT /api/blocks/:id (state only)
func UpdateBlockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id uint
		if _, err := fmt.Sscan(c.Params("id"), &id); err != nil || id == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid block id")
		}

		var body BlockRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name is required")
		}

		var block models.Block
		if err := database.DB.First(&block, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Block not found")
		}
		before := block

		block.Name = body.Name
		if err := database.DB.Save(&block).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update block")
		}

		writeHierarchyAudit(c, "block", block.ID, models.AuditActionUpdate,
			fmt.Sprintf("Block renamed: %s", block.Code), before, block)
		return c.JSON(block)
	}
}

// GET /api/blocks?district_code=D045
func ListBlocksHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := database.DB.Model(&models.Block{}).Preload("District")
		if s := c.Query("district_code"); s != "" {
			q = q.Joins("JOIN districts ON districts.id = blocks.district_id").
				Where("districts.code = ?", s)
		}

		var blocks []models.Block
		if err := q.Order("blocks.code").Find(&blocks).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list blocks")
		}
		return c.JSON(blocks)
	}
}

func toSchoolResponse(s *models.School) SchoolResponse {
	return SchoolResponse{
		ID:           s.ID,
		UDISE:        s.UDISE,
		Name:         s.Name,
		Category:     s.Category,
		Enrollment:   s.Enrollment,
		BlockCode:    s.Block.Code,
		BlockName:    s.Block.Name,
		DistrictCode: s.Block.District.Code,
		DistrictName: s.Block.District.Name,
	}
}

// POST /api/schools (state only)
func CreateSchoolHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body SchoolRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.UDISE == "" || body.Name == "" || body.BlockCode == "" {
			return fiber.NewError(fiber.StatusBadRequest, "udise, name and block_code are required")
		}
		if body.Enrollment < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "enrollment cannot be negative")
		}
		if body.Category == "" {
			body.Category = models.SchoolGovernment
		}
		if body.Category != models.SchoolGovernment && body.Category != models.SchoolPrivate {
			return fiber.NewError(fiber.StatusBadRequest, "category must be GOVT or PRIVATE")
		}

		var block models.Block
		if err := database.DB.Preload("District").First(&block, "code = ?", body.BlockCode).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Block not found")
		}

		school := models.School{
			UDISE:      body.UDISE,
			Name:       body.Name,
			Category:   body.Category,
			Enrollment: body.Enrollment,
			BlockID:    block.ID,
		}
		if err := database.DB.Create(&school).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fiber.NewError(fiber.StatusConflict, "UDISE already registered")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create school")
		}
		school.Block = block

		writeHierarchyAudit(c, "school", school.ID, models.AuditActionCreate,
			fmt.Sprintf("School registered: %s (%s) under block %s", school.Name, school.UDISE, block.Code), nil, school)
		return c.Status(fiber.StatusCreated).JSON(toSchoolResponse(&school))
	}
}

// PUT /api/schools/:id (state only)
// Enrollment and category drift year to year; UDISE and placement do not.
func UpdateSchoolHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id uint
		if _, err := fmt.Sscan(c.Params("id"), &id); err != nil || id == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid school id")
		}

		var body SchoolRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		var school models.School
		if err := database.DB.Preload("Block.District").First(&school, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "School not found")
		}
		before := school

		if body.Name != "" {
			school.Name = body.Name
		}
		if body.Enrollment > 0 {
			school.Enrollment = body.Enrollment
		}
		if body.Category != "" {
			if body.Category != models.SchoolGovernment && body.Category != models.SchoolPrivate {
				return fiber.NewError(fiber.StatusBadRequest, "category must be GOVT or PRIVATE")
			}
			school.Category = body.Category
		}

		if err := database.DB.Save(&school).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update school")
		}

		writeHierarchyAudit(c, "school", school.ID, models.AuditActionUpdate,
			fmt.Sprintf("School updated: %s", school.UDISE), before, school)
		return c.JSON(toSchoolResponse(&school))
	}
}

// GET /api/schools?district_code=D045&block_code=B12&category=PRIVATE
func ListSchoolsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := database.DB.Model(&models.School{}).Preload("Block.District").
			Joins("JOIN blocks ON blocks.id = schools.block_id").
			Joins("JOIN districts ON districts.id = blocks.district_id")

		if s := c.Query("district_code"); s != "" {
			q = q.Where("districts.code = ?", s)
		}
		if s := c.Query("block_code"); s != "" {
			q = q.Where("blocks.code = ?", s)
		}
		if s := c.Query("category"); s != "" {
			q = q.Where("schools.category = ?", s)
		}

		var schools []models.School
		if err := q.Order("schools.udise").Find(&schools).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list schools")
		}

		resp := make([]SchoolResponse, 0, len(schools))
		for i := range schools {
			resp = append(resp, toSchoolResponse(&schools[i]))
		}
		return c.JSON(resp)
	}
}
