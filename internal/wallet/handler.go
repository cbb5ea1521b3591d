package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/xchange/walletledger/internal/middleware"
	"github.com/xchange/walletledger/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type walletResponse struct {
	ID             string          `json:"id"`
	Currency       money.Currency  `json:"currency"`
	Balance        string          `json:"balance"`
	Held           string          `json:"held"`
	Available      string          `json:"available"`
	VirtualAccount *VirtualAccount `json:"virtual_account,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:             w.ID,
		Currency:       w.Currency,
		Balance:        w.Balance.StringFixed(money.Scale),
		Held:           w.Held.StringFixed(money.Scale),
		Available:      w.Available().StringFixed(money.Scale),
		VirtualAccount: w.VirtualAccount,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

// List returns every wallet of the authenticated user.
func (h *Handler) List(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	wallets, err := h.service.Wallets(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]walletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, toResponse(w))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallets": out})
}

// ByCurrency returns the authenticated user's wallet in one currency.
func (h *Handler) ByCurrency(c *fiber.Ctx) error {
	currency, err := money.ParseCurrency(c.Params("currency"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.ByCurrency(c.UserContext(), middleware.UserID(c), currency)
	if errors.Is(err, ErrNotFound) {
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	}
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}
