package main

import (
	"log"
	"strings"

	"textbook-backend/internal/audit"
	"textbook-backend/internal/auth"
	"textbook-backend/internal/catalog"
	"textbook-backend/internal/challan"
	"textbook-backend/internal/config"
	"textbook-backend/internal/database"
	"textbook-backend/internal/hierarchy"
	"textbook-backend/internal/ledger"
	"textbook-backend/internal/models"
	"textbook-backend/internal/report"
	"textbook-backend/internal/requisition"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	cfg := config.Load()
	database.Init(cfg)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			log.Println("Unexpected error:", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unexpected server error",
			})
		},
	})

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-state-admin", auth.RegisterStateAdminHandler(cfg))
	api.Post("/auth/login", auth.LoginHandler(cfg))

	// Protected
	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg))

	protected.Get("/auth/me", auth.MeHandler())

	// State admin routes: master data and user provisioning
	stateRoutes := protected.Group("/admin")
	stateRoutes.Use(auth.RequireRole(models.RoleStateAdmin))

	stateRoutes.Post("/users", auth.CreateUserHandler())

	stateRoutes.Post("/books", catalog.CreateBookHandler())
	stateRoutes.Put("/books/:id", catalog.UpdateBookHandler())

	stateRoutes.Post("/districts", hierarchy.CreateDistrictHandler())
	stateRoutes.Put("/districts/:id", hierarchy.UpdateDistrictHandler())
	stateRoutes.Post("/blocks", hierarchy.CreateBlockHandler())
	stateRoutes.Put("/blocks/:id", hierarchy.UpdateBlockHandler())
	stateRoutes.Post("/schools", hierarchy.CreateSchoolHandler())
	stateRoutes.Put("/schools/:id", hierarchy.UpdateSchoolHandler())

	// Reference data, open to every authenticated level
	protected.Get("/books", catalog.ListBooksHandler())
	protected.Get("/districts", hierarchy.ListDistrictsHandler())
	protected.Get("/blocks", hierarchy.ListBlocksHandler())
	protected.Get("/schools", hierarchy.ListSchoolsHandler())

	// Stock ledger
	protected.Get("/stock", ledger.ListStockHandler())
	protected.Post("/stock/upsert", ledger.UpsertStockHandler())

	// Requisitions
	protected.Post("/requisitions",
		auth.RequireRole(models.RoleSchool),
		requisition.CreateRequisitionHandler(cfg.AcademicYear))
	protected.Get("/requisitions", requisition.ListRequisitionsHandler())
	protected.Get("/requisitions/active",
		auth.RequireRole(models.RoleSchool),
		requisition.ListActiveRequisitionsHandler())

	gates := auth.RequireRole(models.RoleBlockAdmin, models.RoleDistrictAdmin, models.RoleStateAdmin)
	protected.Post("/requisitions/:id/approve", gates, requisition.ApproveRequisitionHandler())
	protected.Post("/requisitions/:id/reject", gates, requisition.RejectRequisitionHandler())
	protected.Post("/requisitions/:id/remark",
		auth.RequireRole(models.RoleBlockAdmin, models.RoleDistrictAdmin),
		requisition.SaveRemarkHandler())

	// Challans
	dispatchers := auth.RequireRole(models.RoleStateAdmin, models.RoleDistrictAdmin, models.RoleBlockAdmin)
	protected.Post("/challans", dispatchers, challan.IssueChallanHandler(cfg.AcademicYear))
	protected.Get("/challans", challan.ListChallansHandler())
	protected.Get("/challans/by-no", challan.GetChallanByNoHandler())
	protected.Post("/challans/:id/transit", dispatchers, challan.MarkInTransitHandler())
	protected.Post("/challans/:id/delivered", challan.MarkDeliveredHandler())
	protected.Post("/challans/:id/receive", challan.ReceiveChallanHandler())
	protected.Post("/challans/:id/cancel", dispatchers, challan.CancelChallanHandler())

	// Reconciliation reports
	protected.Get("/reports/reconciliation", report.ReconciliationHandler(cfg.AcademicYear))
	protected.Get("/reports/reconciliation/xlsx", report.ReconciliationXLSXHandler(cfg.AcademicYear))

	// Audit logs
	protected.Get("/audit-logs", audit.ListAuditLogsHandler())

	log.Println("Server listening on port:", cfg.HTTPPort)
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.Fatal(err)
	}
}
