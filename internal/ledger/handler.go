package ledger

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/xchange/walletledger/internal/middleware"
	"github.com/xchange/walletledger/internal/money"
)

// Handler exposes transaction history endpoints.
type Handler struct {
	store Store
}

// NewHandler builds a transaction HTTP handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// TransactionResponse is the wire shape of a transaction.
type TransactionResponse struct {
	ID                  string         `json:"id"`
	WalletID            string         `json:"wallet_id,omitempty"`
	Type                Type           `json:"type"`
	Currency            money.Currency `json:"currency"`
	Amount              string         `json:"amount"`
	Fee                 *string        `json:"fee,omitempty"`
	ExchangeRate        *string        `json:"exchange_rate,omitempty"`
	Status              Status         `json:"status"`
	ReferenceID         string         `json:"reference_id"`
	ExternalReferenceID string         `json:"external_reference_id,omitempty"`
	FailureReason       string         `json:"failure_reason,omitempty"`
	Description         string         `json:"description,omitempty"`
	Method              string         `json:"funding_method,omitempty"`
	EstimatedDeliveryAt *time.Time     `json:"estimated_delivery_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// ToResponse renders t for clients.
func ToResponse(t Transaction) TransactionResponse {
	return TransactionResponse{
		ID:                  t.ID,
		WalletID:            t.WalletID,
		Type:                t.Type,
		Currency:            t.Currency,
		Amount:              t.Amount.StringFixed(money.Scale),
		Fee:                 nullDecimal(t.Fee),
		ExchangeRate:        nullDecimal(t.ExchangeRate),
		Status:              t.Status,
		ReferenceID:         t.ReferenceID,
		ExternalReferenceID: t.ExternalReferenceID,
		FailureReason:       t.FailureReason,
		Description:         t.Description,
		Method:              t.Method,
		EstimatedDeliveryAt: t.EstimatedDeliveryAt,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
		CompletedAt:         t.CompletedAt,
	}
}

type pageResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
	TotalPages   int                   `json:"total_pages"`
}

// Get returns one of the caller's transactions.
func (h *Handler) Get(c *fiber.Ctx) error {
	t, err := h.store.GetForUser(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if errors.Is(err, ErrNotFound) {
		return fiber.NewError(http.StatusNotFound, "transaction not found")
	}
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(ToResponse(t))
}

// List returns the caller's transactions, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	page, err := h.store.List(c.UserContext(), middleware.UserID(c), filter)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]TransactionResponse, 0, len(page.Items))
	for _, t := range page.Items {
		out = append(out, ToResponse(t))
	}
	return c.Status(http.StatusOK).JSON(pageResponse{
		Transactions: out,
		Total:        page.Total,
		Page:         page.Page,
		PageSize:     page.PageSize,
		TotalPages:   page.TotalPages,
	})
}

func parseFilter(c *fiber.Ctx) (Filter, error) {
	var (
		f   Filter
		err error
	)
	if v := c.Query("currency"); v != "" {
		if f.Currency, err = money.ParseCurrency(v); err != nil {
			return f, err
		}
	}
	if v := c.Query("type"); v != "" {
		if f.Type, err = ParseType(v); err != nil {
			return f, err
		}
	}
	if v := c.Query("status"); v != "" {
		if f.Status, err = ParseStatus(v); err != nil {
			return f, err
		}
	}
	if f.From, err = parseTime(c.Query("from"), false); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTime(c.Query("to"), true); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("to must not be before from")
	}
	if f.Page, err = parseInt(c.Query("page")); err != nil {
		return f, fmt.Errorf("page: %w", err)
	}
	if f.PageSize, err = parseInt(c.Query("page_size")); err != nil {
		return f, fmt.Errorf("page_size: %w", err)
	}
	return f, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", v)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}

func parseInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return n, nil
}
