package reconcile

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type webhookResponse struct {
	Outcome       Outcome `json:"outcome"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// Receive handles POST /webhooks/:provider. Applied, replayed and ignored
// events answer 200. Unmatched ones answer 404 with a JSON outcome body;
// an unknown provider answers 404 as plain text.
func (h *Handler) Receive(c *fiber.Ctx) error {
	name := c.Params("provider")
	header, err := h.svc.SignatureHeader(name)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "unknown provider")
	}

	res, err := h.svc.ApplyProviderEvent(c.UserContext(), name, c.Body(), c.Get(header))
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
	case errors.Is(err, ErrMalformedPayload):
		return fiber.NewError(fiber.StatusBadRequest, "malformed payload")
	case errors.Is(err, ErrUnknownProvider):
		return fiber.NewError(fiber.StatusNotFound, "unknown provider")
	case err != nil:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to apply event")
	}

	status := fiber.StatusOK
	if res.Outcome == OutcomeNotFound {
		status = fiber.StatusNotFound
	}
	return c.Status(status).JSON(webhookResponse{Outcome: res.Outcome, TransactionID: res.TransactionID})
}
