package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xchange/walletledger/internal/reconcile"
)

// RegisterWebhookRoutes wires provider callbacks. They authenticate by
// signature, not bearer token.
func RegisterWebhookRoutes(app *fiber.App, h *reconcile.Handler) {
	app.Post("/webhooks/:provider", h.Receive)
}
