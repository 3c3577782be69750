package catalog

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

type BookRequest struct {
	Title         string `json:"title"`
	ClassLevel    int    `json:"class_level"`
	AcademicYear  string `json:"academic_year"`
	Subject       string `json:"subject"`
	Category      string `json:"category"`
	Medium        string `json:"medium"`
	UnitRatePaise int64  `json:"unit_rate_paise"`
	Active        *bool  `json:"active"`
}

type BookResponse struct {
	ID            uint   `json:"id"`
	Title         string `json:"title"`
	ClassLevel    int    `json:"class_level"`
	AcademicYear  string `json:"academic_year"`
	Subject       string `json:"subject"`
	Category      string `json:"category"`
	Medium        string `json:"medium"`
	UnitRatePaise int64  `json:"unit_rate_paise"`
	Active        bool   `json:"active"`
}

func toResponse(b *models.Book) BookResponse {
	return BookResponse{
		ID:            b.ID,
		Title:         b.Title,
		ClassLevel:    b.ClassLevel,
		AcademicYear:  b.AcademicYear,
		Subject:       b.Subject,
		Category:      b.Category,
		Medium:        b.Medium,
		UnitRatePaise: b.UnitRatePaise,
		Active:        b.Active,
	}
}

func validateBook(body *BookRequest) error {
	if body.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}
	if body.ClassLevel < 1 || body.ClassLevel > 12 {
		return fiber.NewError(fiber.StatusBadRequest, "class_level must be between 1 and 12")
	}
	if body.AcademicYear == "" {
		return fiber.NewError(fiber.StatusBadRequest, "academic_year is required")
	}
	if body.UnitRatePaise < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "unit_rate_paise cannot be negative")
	}
	return nil
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

// POST /api/books (state only)
func CreateBookHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body BookRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validateBook(&body); err != nil {
			return err
		}

		book := models.Book{
			Title:         body.Title,
			ClassLevel:    body.ClassLevel,
			AcademicYear:  body.AcademicYear,
			Subject:       body.Subject,
			Category:      body.Category,
			Medium:        body.Medium,
			UnitRatePaise: body.UnitRatePaise,
			Active:        true,
		}
		if err := database.DB.Create(&book).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fiber.NewError(fiber.StatusConflict, "Book already registered for this class and year")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create book")
		}

		userID, userName, uerr := getUserInfo(c)
		if uerr == nil {
			_ = audit.WriteLog(audit.LogOptions{
				Level:       models.LevelState,
				OwnerCode:   models.StateOwnerCode,
				UserID:      userID,
				UserName:    userName,
				EntityType:  "book",
				EntityID:    book.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Book registered: %s (class %d, %s)", book.Title, book.ClassLevel, book.AcademicYear),
				After:       book,
			})
		}

		return c.Status(fiber.StatusCreated).JSON(toResponse(&book))
	}
}

// PUT /api/books/:id (state only)
// Catalog rows are rarely mutated; rate corrections and deactivation are the
// expected edits. Identity fields stay put once requisitions reference them.
func UpdateBookHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id uint
		if _, err := fmt.Sscan(c.Params("id"), &id); err != nil || id == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid book id")
		}

		var body BookRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		var book models.Book
		if err := database.DB.First(&book, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Book not found")
		}
		before := book

		if body.Subject != "" {
			book.Subject = body.Subject
		}
		if body.Category != "" {
			book.Category = body.Category
		}
		if body.Medium != "" {
			book.Medium = body.Medium
		}
		if body.UnitRatePaise > 0 {
			book.UnitRatePaise = body.UnitRatePaise
		}
		if body.Active != nil {
			book.Active = *body.Active
		}

		if err := database.DB.Save(&book).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update book")
		}

		userID, userName, uerr := getUserInfo(c)
		if uerr == nil {
			_ = audit.WriteLog(audit.LogOptions{
				Level:       models.LevelState,
				OwnerCode:   models.StateOwnerCode,
				UserID:      userID,
				UserName:    userName,
				EntityType:  "book",
				EntityID:    book.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Book updated: %s", book.Title),
				Before:      before,
				After:       book,
			})
		}

		return c.JSON(toResponse(&book))
	}
}

// GET /api/books?class_level=5&subject=Maths&category=TEXT_BOOK&active=true
func ListBooksHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := database.DB.Model(&models.Book{})

		if s := c.Query("class_level"); s != "" {
			var class int
			if _, err := fmt.Sscan(s, &class); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid class_level")
			}
			q = q.Where("class_level = ?", class)
		}
		if s := c.Query("subject"); s != "" {
			q = q.Where("subject = ?", s)
		}
		if s := c.Query("category"); s != "" {
			q = q.Where("category = ?", s)
		}
		if s := c.Query("academic_year"); s != "" {
			q = q.Where("academic_year = ?", s)
		}
		if s := c.Query("active"); s != "" {
			q = q.Where("active = ?", s == "true")
		}

		var books []models.Book
		if err := q.Order("class_level, title").Find(&books).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list books")
		}

		resp := make([]BookResponse, 0, len(books))
		for i := range books {
			resp = append(resp, toResponse(&books[i]))
		}
		return c.JSON(resp)
	}
}
