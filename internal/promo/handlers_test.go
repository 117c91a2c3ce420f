package promo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(store *stubStore) *httptest.Server {
	h := &Handler{Svc: newService(store)}
	return httptest.NewServer(h.Routes())
}

func TestHandlerCreateRejectsMissingFields(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{"name":""}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(store.created) != 0 {
		t.Fatal("invalid payload must not create anything")
	}
}

func TestHandlerCreateAndGet(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(store)
	defer srv.Close()

	body := `{
		"name": "Summer sale",
		"kind": "automatic",
		"conditions": [{"type": "min_purchase", "operator": "gte", "number": 50}],
		"actions": [{"type": "percentage_discount", "value": "10"}],
		"startAt": "2026-06-01T00:00:00Z",
		"endAt": "2026-07-01T00:00:00Z"
	}`
	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected 1 created promotion, got %d", len(store.created))
	}
	created := store.created[0]
	if created.MaxUses != UnlimitedUses || created.MaxUsesPerUser != UnlimitedUses {
		t.Fatalf("omitted caps must default to unlimited, got %d / %d", created.MaxUses, created.MaxUsesPerUser)
	}
	if !created.IsActive {
		t.Fatal("omitted activation flag must default to active")
	}
}

func TestHandlerValidateReportsViolations(t *testing.T) {
	srv := newTestServer(&stubStore{})
	defer srv.Close()

	body := `{
		"name": "",
		"kind": "coupon",
		"conditions": [],
		"actions": [{"type": "percentage_discount", "value": "150"}],
		"startAt": "2026-07-01T00:00:00Z",
		"endAt": "2026-06-01T00:00:00Z"
	}`
	resp, err := http.Post(srv.URL+"/validate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Valid      bool     `json:"valid"`
		Violations []string `json:"violations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Valid {
		t.Fatal("expected invalid definition")
	}
	if len(out.Violations) < 4 {
		t.Fatalf("expected several violations, got %v", out.Violations)
	}
}

func TestHandlerPreview(t *testing.T) {
	store := &stubStore{active: []*Promotion{activePromotion(nil)}}
	srv := newTestServer(store)
	defer srv.Close()

	body := `{
		"cart": {
			"items": [{"productId": "p1", "quantity": 1, "price": {"amount": "100", "currency": "USD"}}],
			"pricing": {"subtotal": {"amount": "100", "currency": "USD"}, "total": {"amount": "100", "currency": "USD"}, "currency": "USD"}
		}
	}`
	resp, err := http.Post(srv.URL+"/preview", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Data struct {
			Optimal struct {
				TotalDiscount struct {
					Amount string `json:"amount"`
				} `json:"totalDiscount"`
			} `json:"optimal"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Data.Optimal.TotalDiscount.Amount != "10.00" {
		t.Fatalf("expected discount amount 10.00, got %q", out.Data.Optimal.TotalDiscount.Amount)
	}
	if len(store.settlements) != 0 {
		t.Fatal("preview must not settle anything")
	}
}

func TestHandlerApplyRequiresOrderID(t *testing.T) {
	srv := newTestServer(&stubStore{active: []*Promotion{activePromotion(nil)}})
	defer srv.Close()

	body := `{
		"cart": {"pricing": {"subtotal": {"amount": "100", "currency": "USD"}, "currency": "USD"}}
	}`
	resp, err := http.Post(srv.URL+"/apply", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandlerApplySettles(t *testing.T) {
	store := &stubStore{active: []*Promotion{activePromotion(nil)}}
	srv := newTestServer(store)
	defer srv.Close()

	body := `{
		"orderId": "ord-9",
		"cart": {"pricing": {"subtotal": {"amount": "100", "currency": "USD"}, "total": {"amount": "100", "currency": "USD"}, "currency": "USD"}}
	}`
	resp, err := http.Post(srv.URL+"/apply", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(store.settlements) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(store.settlements))
	}
}
