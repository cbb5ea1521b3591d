package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xchange/walletledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet read endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallets", h.List)
	r.Get("/wallets/:currency", h.ByCurrency)
}
