package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xchange/walletledger/internal/funding"
)

// RegisterFundingRoutes wires the wallet funding endpoint behind guards.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, guards ...fiber.Handler) {
	r.Post("/wallets/fund", append(guards, h.Fund)...)
}
