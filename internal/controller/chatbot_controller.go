package controller

import (
	"campus-qa-be/internal/dto"
	"campus-qa-be/internal/pkg/serverutils"
	"campus-qa-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IChatbotController interface {
	RegisterRoutes(r fiber.Router)
	ProcessQuery(ctx *fiber.Ctx) error
	ClearSession(ctx *fiber.Ctx) error
	GetSessionStats(ctx *fiber.Ctx) error
	Health(ctx *fiber.Ctx) error
}

type chatbotController struct {
	service   service.IChatbotService
	jwtSecret string
}

func NewChatbotController(service service.IChatbotService, jwtSecret string) IChatbotController {
	return &chatbotController{service: service, jwtSecret: jwtSecret}
}

func (c *chatbotController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)

	h := r.Group("/chat/v1")
	h.Use(serverutils.AuthTokenMiddleware(c.jwtSecret)) // token is optional
	h.Post("/query", c.ProcessQuery)
	h.Delete("/sessions/:id", c.ClearSession)
	h.Get("/sessions/:id/stats", c.GetSessionStats)
}

func (c *chatbotController) ProcessQuery(ctx *fiber.Ctx) error {
	var req dto.ProcessQueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}
	req.AuthToken = serverutils.AuthToken(ctx)

	res, err := c.service.ProcessQuery(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Query processed", res))
}

func (c *chatbotController) ClearSession(ctx *fiber.Ctx) error {
	sessionId := ctx.Params("id")
	if err := c.service.ClearSession(ctx.UserContext(), sessionId); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Session cleared", fiber.Map{"session_id": sessionId}))
}

func (c *chatbotController) GetSessionStats(ctx *fiber.Ctx) error {
	res, err := c.service.GetSessionStats(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Session stats", res))
}

func (c *chatbotController) Health(ctx *fiber.Ctx) error {
	res := c.service.Health(ctx.UserContext())
	status := fiber.StatusOK
	if res.Status != "ok" {
		status = fiber.StatusServiceUnavailable
	}
	return ctx.Status(status).JSON(serverutils.SuccessResponse("Health", res))
}
