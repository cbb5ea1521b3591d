package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/xchange/walletledger/internal/middleware"
)

func handlerApp(store Store, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.UserIDLocal, userID)
		return c.Next()
	})
	h := NewHandler(store)
	app.Get("/transactions", h.List)
	app.Get("/transactions/:id", h.Get)
	return app
}

func getStatus(t *testing.T, app *fiber.App, path string, want int, out any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("GET %s: status %d, want %d", path, resp.StatusCode, want)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
}

func TestHandlerListAndGet(t *testing.T) {
	f := newFixture(t)
	tx := f.pending(t, "7.5")
	app := handlerApp(f.store, "user-1")

	var page pageResponse
	getStatus(t, app, "/transactions?status=PENDING&page_size=5", http.StatusOK, &page)
	if page.Total != 1 || page.PageSize != 5 || len(page.Transactions) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if got := page.Transactions[0]; got.Amount != "7.50" || got.ReferenceID != tx.ReferenceID {
		t.Fatalf("unexpected transaction %+v", got)
	}

	getStatus(t, app, "/transactions/"+tx.ID, http.StatusOK, nil)
	getStatus(t, handlerApp(f.store, "someone-else"), "/transactions/"+tx.ID, http.StatusNotFound, nil)
}

func TestHandlerRejectsBadFilters(t *testing.T) {
	f := newFixture(t)
	app := handlerApp(f.store, "user-1")

	for _, q := range []string{
		"currency=USD",
		"type=bogus",
		"status=done",
		"from=yesterday",
		"page=-1",
		"from=2024-05-02&to=2024-05-01",
	} {
		getStatus(t, app, "/transactions?"+q, http.StatusBadRequest, nil)
	}
	getStatus(t, app, "/transactions?from=2024-05-01&to=2024-05-01", http.StatusOK, nil)
}
