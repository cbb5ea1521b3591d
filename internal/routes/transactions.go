package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xchange/walletledger/internal/ledger"
)

// RegisterTransactionRoutes wires transaction history endpoints.
func RegisterTransactionRoutes(r fiber.Router, h *ledger.Handler) {
	r.Get("/transactions", h.List)
	r.Get("/transactions/:id", h.Get)
}
