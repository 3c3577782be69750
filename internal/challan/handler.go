package challan

import (
	"errors"
	"fmt"

	"textbook-backend/internal/audit"
	"textbook-backend/internal/auth"
	"textbook-backend/internal/database"
	"textbook-backend/internal/ledger"
	"textbook-backend/internal/models"
	"textbook-backend/internal/requisition"

	"github.com/gofiber/fiber/v2"
)

type IssueChallanRequest struct {
	ClientRef string       `json:"client_ref"` // retry-safe, optional
	DestLevel models.Level `json:"dest_level"`
	DestOwner string       `json:"dest_owner"`
	VehicleNo string       `json:"vehicle_no"`
	Agency    string       `json:"agency"`
	Lines     []LineInput  `json:"lines"`
}

type ChallanItemResponse struct {
	RequisitionID uint   `json:"requisition_id"`
	BookID        uint   `json:"book_id"`
	BookTitle     string `json:"book_title"`
	Quantity      int64  `json:"quantity"`
	Boxes         int64  `json:"boxes"`
	Packets       int64  `json:"packets"`
	Loose         int64  `json:"loose"`
}

type ChallanResponse struct {
	ID           uint                  `json:"id"`
	ChallanNo    string                `json:"challan_no"`
	SourceLevel  models.Level          `json:"source_level"`
	SourceOwner  string                `json:"source_owner"`
	DestLevel    models.Level          `json:"dest_level"`
	DestOwner    string                `json:"dest_owner"`
	AcademicYear string                `json:"academic_year"`
	VehicleNo    string                `json:"vehicle_no"`
	Agency       string                `json:"agency"`
	Status       models.ChallanStatus  `json:"status"`
	Receipted    bool                  `json:"receipted"`
	DeliveredAt  string                `json:"delivered_at,omitempty"`
	CreatedAt    string                `json:"created_at"`
	Items        []ChallanItemResponse `json:"items"`
}

func toResponse(c *models.Challan) ChallanResponse {
	resp := ChallanResponse{
		ID:           c.ID,
		ChallanNo:    c.ChallanNo,
		SourceLevel:  c.SourceLevel,
		SourceOwner:  c.SourceOwner,
		DestLevel:    c.DestLevel,
		DestOwner:    c.DestOwner,
		AcademicYear: c.AcademicYear,
		VehicleNo:    c.VehicleNo,
		Agency:       c.Agency,
		Status:       c.Status,
		Receipted:    c.Receipted,
		CreatedAt:    c.CreatedAt.Format("2006-01-02 15:04:05"),
		Items:        make([]ChallanItemResponse, 0, len(c.Items)),
	}
	if c.DeliveredAt != nil {
		resp.DeliveredAt = c.DeliveredAt.Format("2006-01-02 15:04:05")
	}
	for _, item := range c.Items {
		resp.Items = append(resp.Items, ChallanItemResponse{
			RequisitionID: item.RequisitionID,
			BookID:        item.BookID,
			BookTitle:     item.Book.Title,
			Quantity:      item.Quantity,
			Boxes:         item.Boxes,
			Packets:       item.Packets,
			Loose:         item.Loose,
		})
	}
	return resp
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

func writeChallanAudit(c *fiber.Ctx, doc *models.Challan, action models.AuditAction, description string, before interface{}) {
	level, owner, err := auth.Scope(c)
	if err != nil {
		return
	}
	userID, userName, err := getUserInfo(c)
	if err != nil {
		return
	}
	_ = audit.WriteLog(audit.LogOptions{
		Level:       level,
		OwnerCode:   owner,
		UserID:      userID,
		UserName:    userName,
		EntityType:  "challan",
		EntityID:    doc.ID,
		Action:      action,
		Description: description,
		Before:      before,
		After:       doc,
	})
}

func issueErrToHTTP(err error) error {
	switch {
	case errors.Is(err, ErrEmptyDocument), errors.Is(err, ErrBadPackaging), errors.Is(err, ErrBadQuantity):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBadRoute), errors.Is(err, ErrNotApproved):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, requisition.ErrExceedsPending):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, requisition.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, "Requisition changed concurrently, retry")
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "Could not issue challan")
	}
}

// POST /api/challans
// The actor always dispatches from their own pool; schools cannot issue.
func IssueChallanHandler(academicYear string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body IssueChallanRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.DestLevel == "" || body.DestOwner == "" {
			return fiber.NewError(fiber.StatusBadRequest, "dest_level and dest_owner are required")
		}

		level, owner, err := auth.Scope(c)
		if err != nil {
			return err
		}
		if level == models.LevelSchool {
			return fiber.NewError(fiber.StatusForbidden, "Schools receive, they do not dispatch")
		}

		userID, _, err := getUserInfo(c)
		if err != nil {
			return err
		}

		doc, created, err := Issue(database.DB, IssueInput{
			ClientRef:    body.ClientRef,
			SourceLevel:  level,
			SourceOwner:  owner,
			DestLevel:    body.DestLevel,
			DestOwner:    body.DestOwner,
			AcademicYear: academicYear,
			VehicleNo:    body.VehicleNo,
			Agency:       body.Agency,
			CreatedBy:    userID,
			Lines:        body.Lines,
		})
		if err != nil {
			return issueErrToHTTP(err)
		}

		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
			writeChallanAudit(c, doc, models.AuditActionCreate,
				fmt.Sprintf("Challan %s issued to %s %s", doc.ChallanNo, doc.DestLevel, doc.DestOwner), nil)
		}

		return c.Status(status).JSON(toResponse(doc))
	}
}

func parseID(c *fiber.Ctx) (uint, error) {
	var id uint
	if _, err := fmt.Sscan(c.Params("id"), &id); err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid challan id")
	}
	return id, nil
}

func loadScoped(c *fiber.Ctx, id uint, wantSource bool) (*models.Challan, error) {
	level, owner, err := auth.Scope(c)
	if err != nil {
		return nil, err
	}

	doc, err := Find(database.DB, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Challan not found")
	}
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not load challan")
	}

	if level == models.LevelState {
		return doc, nil
	}
	if wantSource && doc.SourceLevel == level && doc.SourceOwner == owner {
		return doc, nil
	}
	if !wantSource && doc.DestLevel == level && doc.DestOwner == owner {
		return doc, nil
	}
	return nil, fiber.NewError(fiber.StatusForbidden, "Challan is outside your jurisdiction")
}

func statusErrToHTTP(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Challan not found")
	case errors.Is(err, ErrInvalidStatus):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Status change not permitted from the current status")
	case errors.Is(err, ErrAlreadyReceipted):
		return fiber.NewError(fiber.StatusConflict, "Challan already receipted")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "Could not update challan")
	}
}

// POST /api/challans/:id/transit — the source marks the consignment moving.
func MarkInTransitHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		before, err := loadScoped(c, id, true)
		if err != nil {
			return err
		}

		doc, err := MarkInTransit(database.DB, id)
		if err != nil {
			return statusErrToHTTP(err)
		}

		if doc.Status != before.Status {
			writeChallanAudit(c, doc, models.AuditActionUpdate,
				fmt.Sprintf("Challan %s in transit", doc.ChallanNo), before)
		}
		return c.JSON(toResponse(doc))
	}
}

// POST /api/challans/:id/delivered — the receiving tier confirms physical
// arrival.
func MarkDeliveredHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		before, err := loadScoped(c, id, false)
		if err != nil {
			return err
		}

		doc, err := MarkDelivered(database.DB, id)
		if err != nil {
			return statusErrToHTTP(err)
		}

		if doc.Status != before.Status {
			writeChallanAudit(c, doc, models.AuditActionUpdate,
				fmt.Sprintf("Challan %s delivered", doc.ChallanNo), before)
		}
		return c.JSON(toResponse(doc))
	}
}

// POST /api/challans/:id/receive — stocks a delivered consignment into the
// destination pool, once.
func ReceiveChallanHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		before, err := loadScoped(c, id, false)
		if err != nil {
			return err
		}

		doc, err := Receive(database.DB, id)
		if err != nil {
			return statusErrToHTTP(err)
		}

		writeChallanAudit(c, doc, models.AuditActionUpdate,
			fmt.Sprintf("Challan %s receipted into %s %s", doc.ChallanNo, doc.DestLevel, doc.DestOwner), before)
		return c.JSON(toResponse(doc))
	}
}

// POST /api/challans/:id/cancel — voids a GENERATED document, returning stock
// to the source.
func CancelChallanHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		before, err := loadScoped(c, id, true)
		if err != nil {
			return err
		}

		doc, err := Cancel(database.DB, id)
		if err != nil {
			return statusErrToHTTP(err)
		}

		if doc.Status != before.Status {
			writeChallanAudit(c, doc, models.AuditActionUpdate,
				fmt.Sprintf("Challan %s cancelled", doc.ChallanNo), before)
		}
		return c.JSON(toResponse(doc))
	}
}

// GET /api/challans?status=GENERATED&dest_owner=...&direction=in|out
func ListChallansHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		level, owner, err := auth.Scope(c)
		if err != nil {
			return err
		}

		f := ListFilter{
			Status:       models.ChallanStatus(c.Query("status")),
			AcademicYear: c.Query("academic_year"),
		}

		if level == models.LevelState {
			f.SourceLevel = models.Level(c.Query("source_level"))
			f.SourceOwner = c.Query("source_owner")
			f.DestLevel = models.Level(c.Query("dest_level"))
			f.DestOwner = c.Query("dest_owner")
		} else if c.Query("direction") == "out" {
			f.SourceLevel = level
			f.SourceOwner = owner
		} else {
			f.DestLevel = level
			f.DestOwner = owner
		}

		docs, err := List(database.DB, f)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list challans")
		}

		resp := make([]ChallanResponse, 0, len(docs))
		for i := range docs {
			resp = append(resp, toResponse(&docs[i]))
		}
		return c.JSON(resp)
	}
}

// GET /api/challans/by-no?challan_no=CH/STATE/D045/20260901/0001
// The printed number carries slashes, so it travels as a query param.
func GetChallanByNoHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		no := c.Query("challan_no")
		if no == "" {
			return fiber.NewError(fiber.StatusBadRequest, "challan_no is required")
		}
		doc, err := FindByNo(database.DB, no)
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Challan not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not load challan")
		}

		level, owner, serr := auth.Scope(c)
		if serr != nil {
			return serr
		}
		if level != models.LevelState &&
			!(doc.SourceLevel == level && doc.SourceOwner == owner) &&
			!(doc.DestLevel == level && doc.DestOwner == owner) {
			return fiber.NewError(fiber.StatusForbidden, "Challan is outside your jurisdiction")
		}

		return c.JSON(toResponse(doc))
	}
}
