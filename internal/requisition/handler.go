package requisition

import (
	"errors"
	"fmt"

	"textbook-backend/internal/audit"
	"textbook-backend/internal/auth"
	"textbook-backend/internal/database"
	"textbook-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type CreateRequisitionRequest struct {
	ReqID    string `json:"req_id"` // client-supplied, retry-safe
	BookID   uint   `json:"book_id"`
	Quantity int64  `json:"quantity"`
}

type GateActionRequest struct {
	Remark string `json:"remark"`
}

type RequisitionResponse struct {
	ID             uint   `json:"id"`
	ReqID          string `json:"req_id"`
	SchoolUDISE    string `json:"school_udise"`
	SchoolName     string `json:"school_name"`
	BookID         uint   `json:"book_id"`
	BookTitle      string `json:"book_title"`
	ClassLevel     int    `json:"class_level"`
	AcademicYear   string `json:"academic_year"`
	Quantity       int64  `json:"quantity"`
	Received       int64  `json:"received"`
	Pending        int64  `json:"pending"`
	Status         string `json:"status"`
	ViewLabel      string `json:"view_label"`
	Urgent         bool   `json:"urgent"`
	BlockRemark    string `json:"block_remark"`
	DistrictRemark string `json:"district_remark"`
	CreatedAt      string `json:"created_at"`
}

func toResponse(r *models.Requisition, viewer models.Level) RequisitionResponse {
	return RequisitionResponse{
		ID:             r.ID,
		ReqID:          r.ReqID,
		SchoolUDISE:    r.School.UDISE,
		SchoolName:     r.School.Name,
		BookID:         r.BookID,
		BookTitle:      r.Book.Title,
		ClassLevel:     r.Book.ClassLevel,
		AcademicYear:   r.AcademicYear,
		Quantity:       r.Quantity,
		Received:       r.Received,
		Pending:        r.Pending(),
		Status:         string(r.Status),
		ViewLabel:      ViewLabel(r),
		Urgent:         IsUrgent(r, viewer),
		BlockRemark:    r.BlockRemark,
		DistrictRemark: r.DistrictRemark,
		CreatedAt:      r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
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

// governs checks that the acting node actually sits above the requisition's
// school; name-string matching is never used for this.
func governs(req *models.Requisition, level models.Level, owner string) error {
	var school models.School
	if err := database.DB.Preload("Block.District").First(&school, "id = ?", req.SchoolID).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "School not found")
	}

	switch level {
	case models.LevelState:
		return nil
	case models.LevelDistrict:
		if school.Block.District.Code == owner {
			return nil
		}
	case models.LevelBlock:
		if school.Block.Code == owner {
			return nil
		}
	case models.LevelSchool:
		if school.UDISE == owner {
			return nil
		}
	}
	return fiber.NewError(fiber.StatusForbidden, "Requisition is outside your jurisdiction")
}

// POST /api/requisitions
// One line per book; schools only.
func CreateRequisitionHandler(academicYear string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateRequisitionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		if body.BookID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "book_id is required")
		}
		if body.Quantity <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "quantity must be greater than zero")
		}

		_, owner, err := auth.Scope(c)
		if err != nil {
			return err
		}

		var school models.School
		if err := database.DB.First(&school, "udise = ?", owner).Error; err != nil {
			return fiber.NewError(fiber.StatusForbidden, "School scope not found")
		}

		var book models.Book
		if err := database.DB.First(&book, "id = ?", body.BookID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Book not found")
		}
		if !book.Active {
			return fiber.NewError(fiber.StatusBadRequest, "Book is no longer in the active catalog")
		}

		req, created, err := Create(database.DB, CreateInput{
			ReqID:        body.ReqID,
			SchoolID:     school.ID,
			BookID:       book.ID,
			Quantity:     body.Quantity,
			AcademicYear: academicYear,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create requisition")
		}
		req.School = school
		req.Book = book

		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
			userID, userName, uerr := getUserInfo(c)
			if uerr == nil {
				_ = audit.WriteLog(audit.LogOptions{
					Level:       models.LevelSchool,
					OwnerCode:   school.UDISE,
					UserID:      userID,
					UserName:    userName,
					EntityType:  "requisition",
					EntityID:    req.ID,
					Action:      models.AuditActionCreate,
					Description: fmt.Sprintf("Requisition %s: %d x %s", req.ReqID, req.Quantity, book.Title),
					After:       req,
				})
			}
		}

		return c.Status(status).JSON(toResponse(req, models.LevelSchool))
	}
}

// GET /api/requisitions?status=PENDING&book_id=3&udise=...&urgent=true
// Every role sees only its own slice of the hierarchy.
func ListRequisitionsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		level, owner, err := auth.Scope(c)
		if err != nil {
			return err
		}

		dbq := database.DB.Model(&models.Requisition{}).
			Preload("Book").Preload("School").
			Joins("JOIN schools ON schools.id = requisitions.school_id")

		switch level {
		case models.LevelSchool:
			dbq = dbq.Where("schools.udise = ?", owner)
		case models.LevelBlock:
			dbq = dbq.Joins("JOIN blocks ON blocks.id = schools.block_id").
				Where("blocks.code = ?", owner)
		case models.LevelDistrict:
			dbq = dbq.Joins("JOIN blocks ON blocks.id = schools.block_id").
				Joins("JOIN districts ON districts.id = blocks.district_id").
				Where("districts.code = ?", owner)
		}

		if s := c.Query("status"); s != "" {
			dbq = dbq.Where("requisitions.status = ?", s)
		}
		if s := c.Query("book_id"); s != "" {
			var bookID uint
			if _, err := fmt.Sscan(s, &bookID); err == nil && bookID > 0 {
				dbq = dbq.Where("requisitions.book_id = ?", bookID)
			}
		}
		if s := c.Query("udise"); s != "" && level != models.LevelSchool {
			dbq = dbq.Where("schools.udise = ?", s)
		}
		if s := c.Query("academic_year"); s != "" {
			dbq = dbq.Where("requisitions.academic_year = ?", s)
		}

		var reqs []models.Requisition
		if err := dbq.Order("requisitions.created_at DESC").Find(&reqs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list requisitions")
		}

		urgentOnly := c.Query("urgent") == "true"
		resp := make([]RequisitionResponse, 0, len(reqs))
		for i := range reqs {
			if urgentOnly && !IsUrgent(&reqs[i], level) {
				continue
			}
			resp = append(resp, toResponse(&reqs[i], level))
		}

		return c.JSON(resp)
	}
}

// GET /api/requisitions/active
// The school's open lines; feeds the "my requests" view.
func ListActiveRequisitionsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, owner, err := auth.Scope(c)
		if err != nil {
			return err
		}

		var school models.School
		if err := database.DB.First(&school, "udise = ?", owner).Error; err != nil {
			return fiber.NewError(fiber.StatusForbidden, "School scope not found")
		}

		reqs, err := ListActiveBySchool(database.DB, school.ID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list requisitions")
		}

		resp := make([]RequisitionResponse, 0, len(reqs))
		for i := range reqs {
			reqs[i].School = school
			resp = append(resp, toResponse(&reqs[i], models.LevelSchool))
		}

		return c.JSON(resp)
	}
}

func gateAction(c *fiber.Ctx, approve bool) error {
	var id uint
	if _, err := fmt.Sscan(c.Params("id"), &id); err != nil || id == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid requisition id")
	}

	var body GateActionRequest
	_ = c.BodyParser(&body) // remark is optional

	level, owner, err := auth.Scope(c)
	if err != nil {
		return err
	}

	before, err := Find(database.DB, id)
	if errors.Is(err, ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Requisition not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Could not load requisition")
	}
	if err := governs(before, level, owner); err != nil {
		return err
	}

	var req *models.Requisition
	if approve {
		req, err = ApproveTx(database.DB, id, level)
	} else {
		req, err = RejectTx(database.DB, id, level, body.Remark)
	}
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Transition not permitted from the current status")
	case errors.Is(err, ErrConflict):
		return fiber.NewError(fiber.StatusConflict, "Requisition changed concurrently, retry")
	case err != nil:
		return fiber.NewError(fiber.StatusInternalServerError, "Could not update requisition")
	}

	if req.Status != before.Status || req.PendingLevel != before.PendingLevel {
		action := "approved"
		if !approve {
			action = "rejected"
		}
		userID, userName, uerr := getUserInfo(c)
		if uerr == nil {
			_ = audit.WriteLog(audit.LogOptions{
				Level:       level,
				OwnerCode:   owner,
				UserID:      userID,
				UserName:    userName,
				EntityType:  "requisition",
				EntityID:    req.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Requisition %s %s at %s gate", req.ReqID, action, level),
				Before:      before,
				After:       req,
			})
		}
	}

	full, ferr := Find(database.DB, id)
	if ferr == nil {
		req = full
	}
	return c.JSON(toResponse(req, level))
}

// POST /api/requisitions/:id/approve
func ApproveRequisitionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error { return gateAction(c, true) }
}

// POST /api/requisitions/:id/reject
func RejectRequisitionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error { return gateAction(c, false) }
}

// POST /api/requisitions/:id/remark
// Saves the acting gate's remark; identical content is a no-op.
func SaveRemarkHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id uint
		if _, err := fmt.Sscan(c.Params("id"), &id); err != nil || id == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid requisition id")
		}

		var body GateActionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		level, owner, err := auth.Scope(c)
		if err != nil {
			return err
		}
		if level != models.LevelBlock && level != models.LevelDistrict {
			return fiber.NewError(fiber.StatusForbidden, "Only block and district gates keep remarks")
		}

		req, err := Find(database.DB, id)
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Requisition not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not load requisition")
		}
		if err := governs(req, level, owner); err != nil {
			return err
		}

		changed, err := SetRemark(database.DB, id, level, body.Remark)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not save remark")
		}

		if changed {
			userID, userName, uerr := getUserInfo(c)
			if uerr == nil {
				_ = audit.WriteLog(audit.LogOptions{
					Level:       level,
					OwnerCode:   owner,
					UserID:      userID,
					UserName:    userName,
					EntityType:  "requisition",
					EntityID:    id,
					Action:      models.AuditActionUpdate,
					Description: fmt.Sprintf("Remark saved on requisition %s", req.ReqID),
					Before:      req,
				})
			}
		}

		full, ferr := Find(database.DB, id)
		if ferr != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not load requisition")
		}
		return c.JSON(toResponse(full, level))
	}
}
