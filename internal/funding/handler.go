package funding

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/xchange/walletledger/internal/ledger"
	"github.com/xchange/walletledger/internal/middleware"
	"github.com/xchange/walletledger/internal/money"
	"github.com/xchange/walletledger/internal/payment"
	"github.com/xchange/walletledger/internal/wallet"
)

// Handler exposes the wallet funding endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// FundRequest is the JSON body of POST /wallets/fund.
type FundRequest struct {
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"funding_method"`
	CardToken       string          `json:"card_token"`
	PaymentMethodID string          `json:"payment_method_id"`
	InteracEmail    string          `json:"interac_email"`
	Description     string          `json:"description"`
}

// FundResponse is the JSON body returned for a funding attempt.
type FundResponse struct {
	Success             bool                   `json:"success"`
	Code                string                 `json:"code,omitempty"`
	Message             string                 `json:"message,omitempty"`
	TransactionID       string                 `json:"transaction_id,omitempty"`
	ReferenceID         string                 `json:"reference_id,omitempty"`
	ExternalReferenceID string                 `json:"external_reference_id,omitempty"`
	Status              ledger.Status          `json:"status,omitempty"`
	Amount              string                 `json:"amount,omitempty"`
	Currency            money.Currency         `json:"currency,omitempty"`
	PaymentURL          string                 `json:"payment_url,omitempty"`
	VirtualAccount      *wallet.VirtualAccount `json:"virtual_account,omitempty"`
	EstimatedDeliveryAt *time.Time             `json:"estimated_delivery_at,omitempty"`
}

// Fund processes a wallet funding request for the authenticated user.
func (h *Handler) Fund(c *fiber.Ctx) error {
	var body FundRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	currency, err := money.ParseCurrency(body.Currency)
	if err != nil {
		return c.Status(http.StatusUnprocessableEntity).JSON(toResponse(rejected(CodeInvalidCurrency, err)))
	}
	method, err := payment.ParseMethod(body.Method)
	if err != nil {
		return c.Status(http.StatusUnprocessableEntity).JSON(toResponse(rejected(CodeInvalidMethod, err)))
	}

	result, err := h.service.FundWallet(c.UserContext(), middleware.UserID(c), Request{
		Currency:        currency,
		Amount:          body.Amount,
		Method:          method,
		CardToken:       body.CardToken,
		PaymentMethodID: body.PaymentMethodID,
		InteracEmail:    body.InteracEmail,
		Description:     body.Description,
	})
	if err != nil {
		if errors.Is(err, ErrWalletCreation) {
			return fiber.NewError(http.StatusInternalServerError, "wallet unavailable")
		}
		return fiber.NewError(http.StatusInternalServerError, "funding failed")
	}
	return c.Status(statusFor(result)).JSON(toResponse(result))
}

func statusFor(r Result) int {
	switch r.Code {
	case "":
		if r.Status == ledger.StatusCompleted {
			return http.StatusCreated
		}
		return http.StatusAccepted
	case CodeTimedOut:
		return http.StatusAccepted
	case CodeKYCRequired:
		return http.StatusForbidden
	case CodePaymentFailed:
		return http.StatusPaymentRequired
	case CodeAdapterUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusUnprocessableEntity
}

func toResponse(r Result) FundResponse {
	out := FundResponse{
		Success:             r.Success,
		Code:                r.Code,
		Message:             r.Message,
		TransactionID:       r.TransactionID,
		ReferenceID:         r.ReferenceID,
		ExternalReferenceID: r.ExternalReferenceID,
		Status:              r.Status,
		Currency:            r.Currency,
		PaymentURL:          r.PaymentURL,
		VirtualAccount:      r.VirtualAccount,
		EstimatedDeliveryAt: r.EstimatedDeliveryAt,
	}
	if r.TransactionID != "" {
		out.Amount = r.Amount.StringFixed(money.Scale)
	}
	return out
}
