package controller

import (
	"ai-relay-be/internal/dto"
	"ai-relay-be/internal/pkg/serverutils"
	"ai-relay-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IAdminController interface {
	RegisterRoutes(r fiber.Router)
	SetIntake(ctx *fiber.Ctx) error
	IntakeStatus(ctx *fiber.Ctx) error
	GetMetrics(ctx *fiber.Ctx) error
	TransferSession(ctx *fiber.Ctx) error
	BackupSession(ctx *fiber.Ctx) error
	ReapIdle(ctx *fiber.Ctx) error
	GetLogs(ctx *fiber.Ctx) error
}

type adminController struct {
	adminService service.IAdminService
}

func NewAdminController(adminService service.IAdminService) IAdminController {
	return &adminController{
		adminService: adminService,
	}
}

func (c *adminController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/admin/v1")
	h.Use(serverutils.AdminMiddleware)
	h.Post("intake", c.SetIntake)
	h.Get("intake", c.IntakeStatus)
	h.Get("metrics", c.GetMetrics)
	h.Post("session/transfer", c.TransferSession)
	h.Post("session/backup", c.BackupSession)
	h.Post("sessions/reap", c.ReapIdle)
	h.Get("logs", c.GetLogs)
}

func (c *adminController) SetIntake(ctx *fiber.Ctx) error {
	var req dto.SetIntakeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	c.adminService.SetIntake(req.Enabled)
	return ctx.JSON(serverutils.SuccessResponse("Success set intake", c.adminService.IntakeStatus()))
}

func (c *adminController) IntakeStatus(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("Success get intake status", c.adminService.IntakeStatus()))
}

func (c *adminController) GetMetrics(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("Success get metrics", c.adminService.GetMetrics()))
}

func (c *adminController) TransferSession(ctx *fiber.Ctx) error {
	var req dto.TransferSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.adminService.TransferSession(ctx.Context(), &req); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success transfer session", nil))
}

func (c *adminController) BackupSession(ctx *fiber.Ctx) error {
	var req dto.BackupSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.adminService.BackupSession(ctx.Context(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success backup session", res))
}

func (c *adminController) ReapIdle(ctx *fiber.Ctx) error {
	res, err := c.adminService.ReapIdle(ctx.Context())
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success reap idle sessions", res))
}

func (c *adminController) GetLogs(ctx *fiber.Ctx) error {
	level := ctx.Query("level", "")
	limit := ctx.QueryInt("limit", 100)
	offset := ctx.QueryInt("offset", 0)

	logs, err := c.adminService.GetLogs(level, limit, offset)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get logs", logs))
}
