package wallet

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/quorum/internal/identity"
	"github.com/congo-pay/quorum/internal/multisig"
	"github.com/congo-pay/quorum/internal/payout"
)

// asCaller stands in for the JWT middleware in handler tests.
func asCaller(c *fiber.Ctx) error {
	if raw := c.Get("X-Caller"); raw != "" {
		c.Locals(identity.CallerKey, common.HexToAddress(raw))
	}
	return c.Next()
}

func setupApp(t *testing.T) (*fiber.App, *Service, *payout.Service) {
	t.Helper()
	svc, payouts := newTestService(t, multisig.NewMemoryStore())
	h := NewHandler(svc)
	app := fiber.New()
	app.Use(asCaller)
	app.Post("/wallets", h.Create)
	app.Get("/wallets/:walletId", h.Get)
	app.Get("/wallets/:walletId/owners/:address", h.IsOwner)
	app.Post("/wallets/:walletId/deposits", h.Deposit)
	app.Get("/wallets/:walletId/balance", h.Balance)
	app.Get("/wallets/:walletId/events", h.Events)
	app.Post("/wallets/:walletId/proposals", h.Propose)
	app.Get("/wallets/:walletId/proposals", h.Proposals)
	app.Get("/wallets/:walletId/proposals/:proposalId", h.Proposal)
	app.Post("/wallets/:walletId/proposals/:proposalId/:action", h.Decide)
	return app, svc, payouts
}

func do(t *testing.T, app *fiber.App, method, path string, as common.Address, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if as != (common.Address{}) {
		req.Header.Set("X-Caller", as.Hex())
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func createWallet(t *testing.T, app *fiber.App) string {
	t.Helper()
	body := `{"owners":["` + ownerA.Hex() + `","` + ownerB.Hex() + `","` + ownerC.Hex() + `"],"threshold":2}`
	status, data := do(t, app, fiber.MethodPost, "/wallets", ownerA, body)
	if status != fiber.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", status, data)
	}
	var resp walletResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	return resp.ID
}

func decodeError(t *testing.T, data []byte) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode error: %v (%s)", err, data)
	}
	return resp
}

func TestHandlerProposalLifecycle(t *testing.T) {
	app, _, payouts := setupApp(t)
	id := createWallet(t, app)
	base := "/wallets/" + id

	if status, data := do(t, app, fiber.MethodPost, base+"/deposits", outsider, `{"amount":"10"}`); status != fiber.StatusCreated {
		t.Fatalf("deposit: expected 201, got %d: %s", status, data)
	}

	status, data := do(t, app, fiber.MethodPost, base+"/proposals", ownerA, `{"to":"`+recipient.Hex()+`","amount":4,"description":"rent"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("propose: expected 201, got %d: %s", status, data)
	}
	var p proposalResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode proposal: %v", err)
	}
	if p.ID != 0 || p.Amount != 4 || p.Status != string(multisig.StatusPending) {
		t.Fatalf("unexpected proposal: %+v", p)
	}

	do(t, app, fiber.MethodPost, base+"/proposals/0/approve", ownerA, "")

	status, data = do(t, app, fiber.MethodPost, base+"/proposals/0/execute", ownerA, "")
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("execute without quorum: expected 422, got %d: %s", status, data)
	}
	if code := decodeError(t, data).Code; code != "InsufficientApproval" {
		t.Fatalf("expected InsufficientApproval, got %s", code)
	}

	status, data = do(t, app, fiber.MethodPost, base+"/proposals/0/approve", ownerA, "")
	if status != fiber.StatusConflict || decodeError(t, data).Code != "AlreadyApproved" {
		t.Fatalf("double approve: expected 409 AlreadyApproved, got %d: %s", status, data)
	}

	do(t, app, fiber.MethodPost, base+"/proposals/0/approve", ownerB, "")
	status, data = do(t, app, fiber.MethodPost, base+"/proposals/0/execute", ownerC, "")
	if status != fiber.StatusOK {
		t.Fatalf("execute: expected 200, got %d: %s", status, data)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode proposal: %v", err)
	}
	if !p.Executed || p.ExecutedAt == nil || p.Approvals != 2 {
		t.Fatalf("unexpected executed proposal: %+v", p)
	}

	status, data = do(t, app, fiber.MethodGet, base+"/balance", ownerB, "")
	if status != fiber.StatusOK || !strings.Contains(string(data), `"balance":6`) {
		t.Fatalf("balance: expected 6, got %d: %s", status, data)
	}
	if paid, _ := payouts.Balance(context.Background(), recipient); paid != 4 {
		t.Fatalf("expected recipient credited 4, got %d", paid)
	}

	status, data = do(t, app, fiber.MethodPost, base+"/proposals/0/approve", ownerC, "")
	if status != fiber.StatusConflict || decodeError(t, data).Code != "ProposalAlreadyExecuted" {
		t.Fatalf("approve executed: expected 409, got %d: %s", status, data)
	}

	status, data = do(t, app, fiber.MethodGet, base+"/events", common.Address{}, "")
	if status != fiber.StatusOK {
		t.Fatalf("events: expected 200, got %d: %s", status, data)
	}
	var events []eventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 5 || events[0].Kind != string(multisig.EventFundsReceived) || events[0].Actor != outsider.Hex() {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestHandlerAnonymousDepositHasNoSender(t *testing.T) {
	app, _, _ := setupApp(t)
	id := createWallet(t, app)
	base := "/wallets/" + id

	status, data := do(t, app, fiber.MethodPost, base+"/deposits", common.Address{}, `{"from":"`+ownerB.Hex()+`","amount":"3"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("deposit: expected 201, got %d: %s", status, data)
	}
	var resp struct {
		From    string `json:"from"`
		Balance int64  `json:"balance"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if resp.From != (common.Address{}).Hex() || resp.Balance != 3 {
		t.Fatalf("expected zero sender and balance 3, got %+v", resp)
	}

	_, data = do(t, app, fiber.MethodGet, base+"/events", common.Address{}, "")
	var events []eventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Actor != (common.Address{}).Hex() {
		t.Fatalf("claimed sender leaked into the audit trail: %+v", events)
	}
}

func TestHandlerRejectsNonOwners(t *testing.T) {
	app, _, _ := setupApp(t)
	id := createWallet(t, app)
	base := "/wallets/" + id

	do(t, app, fiber.MethodPost, base+"/deposits", ownerA, `{"amount":"5"}`)
	do(t, app, fiber.MethodPost, base+"/proposals", ownerA, `{"to":"`+recipient.Hex()+`","amount":1,"description":"x"}`)

	checks := []struct {
		method, path, body string
	}{
		{fiber.MethodPost, base + "/proposals", `{"to":"` + recipient.Hex() + `","amount":1,"description":"x"}`},
		{fiber.MethodPost, base + "/proposals/0/approve", ""},
		{fiber.MethodPost, base + "/proposals/0/revoke", ""},
		{fiber.MethodPost, base + "/proposals/0/execute", ""},
		{fiber.MethodGet, base + "/balance", ""},
	}
	for _, tc := range checks {
		status, data := do(t, app, tc.method, tc.path, outsider, tc.body)
		if status != fiber.StatusForbidden || decodeError(t, data).Code != "NotOwner" {
			t.Fatalf("%s %s: expected 403 NotOwner, got %d: %s", tc.method, tc.path, status, data)
		}
	}

	if status, _ := do(t, app, fiber.MethodGet, base+"/balance", common.Address{}, ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without caller, got %d", status)
	}
}

func TestHandlerValidation(t *testing.T) {
	app, _, _ := setupApp(t)

	status, data := do(t, app, fiber.MethodPost, "/wallets", ownerA, `{"owners":["`+ownerA.Hex()+`"],"threshold":2}`)
	if status != fiber.StatusBadRequest || decodeError(t, data).Code != "InvalidThreshold" {
		t.Fatalf("expected 400 InvalidThreshold, got %d: %s", status, data)
	}
	if status, _ := do(t, app, fiber.MethodPost, "/wallets", ownerA, `{"owners":["owner-a"],"threshold":1}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for malformed owner, got %d", status)
	}

	id := createWallet(t, app)
	base := "/wallets/" + id

	if status, _ := do(t, app, fiber.MethodPost, base+"/deposits", ownerA, `{"amount":"1.5"}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for fractional deposit, got %d", status)
	}
	status, data = do(t, app, fiber.MethodPost, base+"/deposits", ownerA, `{"amount":-1}`)
	if status != fiber.StatusBadRequest || decodeError(t, data).Code != "InvalidAmount" {
		t.Fatalf("expected 400 InvalidAmount, got %d: %s", status, data)
	}
	status, data = do(t, app, fiber.MethodPost, base+"/proposals", ownerA, `{"amount":1,"description":"x"}`)
	if status != fiber.StatusBadRequest || decodeError(t, data).Code != "InvalidAddress" {
		t.Fatalf("expected 400 InvalidAddress, got %d: %s", status, data)
	}
	status, data = do(t, app, fiber.MethodPost, base+"/proposals", ownerA, `{"to":"`+recipient.Hex()+`","amount":1}`)
	if status != fiber.StatusBadRequest || decodeError(t, data).Code != "InvalidDescription" {
		t.Fatalf("expected 400 InvalidDescription, got %d: %s", status, data)
	}

	status, data = do(t, app, fiber.MethodGet, base+"/proposals/7", common.Address{}, "")
	if status != fiber.StatusNotFound || decodeError(t, data).Code != "InvalidId" {
		t.Fatalf("expected 404 InvalidId, got %d: %s", status, data)
	}
	if status, _ := do(t, app, fiber.MethodGet, base+"/proposals/abc", common.Address{}, ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for malformed proposal id, got %d", status)
	}
	if status, _ := do(t, app, fiber.MethodPost, base+"/proposals/0/cancel", ownerA, ""); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", status)
	}
	if status, _ := do(t, app, fiber.MethodGet, "/wallets/missing", common.Address{}, ""); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown wallet, got %d", status)
	}
}

func TestHandlerQueries(t *testing.T) {
	app, _, _ := setupApp(t)
	id := createWallet(t, app)
	base := "/wallets/" + id

	for i := 0; i < 3; i++ {
		do(t, app, fiber.MethodPost, base+"/proposals", ownerB, `{"to":"`+recipient.Hex()+`","amount":2,"description":"batch"}`)
	}

	status, data := do(t, app, fiber.MethodGet, base+"/proposals?offset=1&limit=1", common.Address{}, "")
	if status != fiber.StatusOK {
		t.Fatalf("proposals: expected 200, got %d: %s", status, data)
	}
	var page proposalPage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 1 || page.Items[0].ID != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}

	status, data = do(t, app, fiber.MethodGet, base, common.Address{}, "")
	var w walletResponse
	if err := json.Unmarshal(data, &w); err != nil || status != fiber.StatusOK {
		t.Fatalf("get wallet: %d %v", status, err)
	}
	if w.Threshold != 2 || w.ProposalCount != 3 || len(w.Owners) != 3 || w.Owners[1] != ownerB.Hex() {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	_, data = do(t, app, fiber.MethodGet, base+"/owners/"+ownerC.Hex(), common.Address{}, "")
	if !strings.Contains(string(data), `"is_owner":true`) {
		t.Fatalf("expected owner C to be an owner: %s", data)
	}
	_, data = do(t, app, fiber.MethodGet, base+"/owners/"+outsider.Hex(), common.Address{}, "")
	if !strings.Contains(string(data), `"is_owner":false`) {
		t.Fatalf("expected outsider not to be an owner: %s", data)
	}
}
