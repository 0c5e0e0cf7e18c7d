package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/assetra/transfer-service/internal/app"
	"github.com/assetra/transfer-service/internal/domain"
	"github.com/assetra/transfer-service/internal/store"
)

type allowAllVerifier struct {
	err error
}

func (v *allowAllVerifier) VerifyDocument(ctx context.Context, documentID, officeID, wantType string) error {
	return v.err
}

type fixedLimiter struct {
	count      int
	retryAfter int
}

func (l *fixedLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, l.retryAfter, nil
}

// actorMiddleware stands in for the JWT middleware in tests.
func actorMiddleware(actor domain.Actor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func newTestRouter(h *TransferHandlers, actor domain.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(actorMiddleware(actor))
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.CreateTransferHandler)
		r.Get("/", h.ListTransfersHandler)
		r.Get("/office/{officeID}", h.ListTransfersByOfficeHandler)
		r.Get("/asset-item/{assetItemID}", h.ListTransfersByAssetItemHandler)
		r.Route("/{transferID}", func(r chi.Router) {
			r.Get("/", h.GetTransferHandler)
			r.Delete("/", h.DeleteTransferHandler)
			r.Post("/approve", h.ApproveTransferHandler)
			r.Post("/reject", h.RejectTransferHandler)
			r.Post("/cancel", h.CancelTransferHandler)
			r.Post("/dispatch-to-store", h.DispatchToStoreHandler)
			r.Post("/receive-at-store", h.ReceiveAtStoreHandler)
			r.Post("/dispatch-to-dest", h.DispatchToDestHandler)
			r.Post("/receive-at-dest", h.ReceiveAtDestHandler)
		})
	})
	return r
}

func newAPITestService(t *testing.T) (*app.Service, *allowAllVerifier) {
	t.Helper()
	repo := store.NewMemoryRepository()
	repo.SeedAssetItem("item-1", domain.HolderPointer{Type: domain.HolderOffice, ID: "OFF-A"})
	verifier := &allowAllVerifier{}
	return app.NewService(repo, verifier, nil, "assetra.events"), verifier
}

func doJSON(t *testing.T, router http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func createRequestBody() domain.CreateTransferRequest {
	return domain.CreateTransferRequest{
		FromOfficeID: "OFF-A",
		ToOfficeID:   "OFF-B",
		Lines:        []domain.CreateTransferLineRequest{{AssetItemID: "item-1"}},
	}
}

func decodeRecord(t *testing.T, rr *httptest.ResponseRecorder) domain.TransferRecord {
	t.Helper()
	var rec domain.TransferRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rr.Body.String())
	}
	return rec
}

func TestCreateTransferHandler(t *testing.T) {
	svc, _ := newAPITestService(t)
	origin := newTestRouter(NewTransferHandlers(svc), domain.Actor{Subject: "u1", OfficeID: "OFF-A"})

	rr := doJSON(t, origin, "POST", "/transfers", createRequestBody())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	rec := decodeRecord(t, rr)
	if rec.Status != domain.StatusRequested {
		t.Fatalf("created status = %s", rec.Status)
	}

	// Malformed JSON is a 400 before the service is involved.
	req := httptest.NewRequest("POST", "/transfers", bytes.NewBufferString("{not json"))
	rr = httptest.NewRecorder()
	origin.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rr.Code)
	}
}

func TestCreateTransferHandler_ForeignOriginForbidden(t *testing.T) {
	svc, _ := newAPITestService(t)
	outsider := newTestRouter(NewTransferHandlers(svc), domain.Actor{Subject: "u2", OfficeID: "OFF-Z"})

	rr := doJSON(t, outsider, "POST", "/transfers", createRequestBody())
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("error body = %s", rr.Body.String())
	}
}

func TestGetTransferHandler(t *testing.T) {
	svc, _ := newAPITestService(t)
	h := NewTransferHandlers(svc)
	origin := newTestRouter(h, domain.Actor{Subject: "u1", OfficeID: "OFF-A"})

	created := decodeRecord(t, doJSON(t, origin, "POST", "/transfers", createRequestBody()))

	rr := doJSON(t, origin, "GET", "/transfers/"+created.ID.String(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	if rr := doJSON(t, origin, "GET", "/transfers/not-a-uuid", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rr.Code)
	}
	if rr := doJSON(t, origin, "GET", "/transfers/00000000-0000-0000-0000-000000000001", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", rr.Code)
	}

	outsider := newTestRouter(h, domain.Actor{Subject: "u2", OfficeID: "OFF-Z"})
	if rr := doJSON(t, outsider, "GET", "/transfers/"+created.ID.String(), nil); rr.Code != http.StatusForbidden {
		t.Fatalf("outsider status = %d", rr.Code)
	}
}

func TestTransitionHandlers_StatusMapping(t *testing.T) {
	svc, verifier := newAPITestService(t)
	h := NewTransferHandlers(svc)
	origin := newTestRouter(h, domain.Actor{Subject: "u1", OfficeID: "OFF-A"})
	dest := newTestRouter(h, domain.Actor{Subject: "u2", OfficeID: "OFF-B"})

	created := decodeRecord(t, doJSON(t, origin, "POST", "/transfers", createRequestBody()))
	base := "/transfers/" + created.ID.String()

	// approve belongs to the destination office
	if rr := doJSON(t, origin, "POST", base+"/approve", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("origin approve status = %d", rr.Code)
	}
	rr := doJSON(t, dest, "POST", base+"/approve", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("dest approve status = %d, body %s", rr.Code, rr.Body.String())
	}
	if rec := decodeRecord(t, rr); rec.Status != domain.StatusApproved {
		t.Fatalf("approved status = %s", rec.Status)
	}

	// replay is a conflict
	if rr := doJSON(t, dest, "POST", base+"/approve", nil); rr.Code != http.StatusConflict {
		t.Fatalf("replay approve status = %d", rr.Code)
	}

	// evidence absence is 422
	if rr := doJSON(t, origin, "POST", base+"/dispatch-to-store", map[string]string{}); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing evidence status = %d, body %s", rr.Code, rr.Body.String())
	}

	// rejected evidence is 422
	verifier.err = domain.ErrInvalidEvidence
	if rr := doJSON(t, origin, "POST", base+"/dispatch-to-store", map[string]string{"handover_document_id": "doc-bad"}); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid evidence status = %d", rr.Code)
	}
	verifier.err = nil

	if rr := doJSON(t, origin, "POST", base+"/dispatch-to-store", map[string]string{"handover_document_id": "doc-1"}); rr.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d, body %s", rr.Code, rr.Body.String())
	}

	storeOp := newTestRouter(h, domain.Actor{Subject: "u3", StoreOperator: true})
	if rr := doJSON(t, storeOp, "POST", base+"/receive-at-store", nil); rr.Code != http.StatusOK {
		t.Fatalf("receive-at-store status = %d", rr.Code)
	}
	if rr := doJSON(t, storeOp, "POST", base+"/dispatch-to-dest", nil); rr.Code != http.StatusOK {
		t.Fatalf("dispatch-to-dest status = %d", rr.Code)
	}
	rr = doJSON(t, dest, "POST", base+"/receive-at-dest", map[string]string{"takeover_document_id": "doc-2"})
	if rr.Code != http.StatusOK {
		t.Fatalf("receive-at-dest status = %d, body %s", rr.Code, rr.Body.String())
	}
	if rec := decodeRecord(t, rr); rec.Status != domain.StatusReceivedAtDest {
		t.Fatalf("final status = %s", rec.Status)
	}
}

func TestDeleteTransferHandler(t *testing.T) {
	svc, _ := newAPITestService(t)
	h := NewTransferHandlers(svc)
	origin := newTestRouter(h, domain.Actor{Subject: "u1", OfficeID: "OFF-A"})

	created := decodeRecord(t, doJSON(t, origin, "POST", "/transfers", createRequestBody()))

	if rr := doJSON(t, origin, "DELETE", "/transfers/"+created.ID.String(), nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := doJSON(t, origin, "GET", "/transfers/"+created.ID.String(), nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
}

func TestRateLimitedRequestsGet429(t *testing.T) {
	svc, _ := newAPITestService(t)
	svc.SetRateLimiter(&fixedLimiter{count: 61, retryAfter: 30}, 60)
	origin := newTestRouter(NewTransferHandlers(svc), domain.Actor{Subject: "u1", OfficeID: "OFF-A"})

	rr := doJSON(t, origin, "POST", "/transfers", createRequestBody())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestListScopes(t *testing.T) {
	svc, _ := newAPITestService(t)
	h := NewTransferHandlers(svc)
	origin := newTestRouter(h, domain.Actor{Subject: "u1", OfficeID: "OFF-A"})
	outsider := newTestRouter(h, domain.Actor{Subject: "u2", OfficeID: "OFF-Z"})

	doJSON(t, origin, "POST", "/transfers", createRequestBody())

	var visible []domain.TransferRecord
	rr := doJSON(t, origin, "GET", "/transfers/office/OFF-A", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("office list status = %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &visible); err != nil || len(visible) != 1 {
		t.Fatalf("office list = %s", rr.Body.String())
	}

	rr = doJSON(t, outsider, "GET", "/transfers", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &visible); err != nil || len(visible) != 0 {
		t.Fatalf("outsider list = %s", rr.Body.String())
	}

	rr = doJSON(t, origin, "GET", "/transfers/asset-item/item-1", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &visible); err != nil || len(visible) != 1 {
		t.Fatalf("asset item list = %s", rr.Body.String())
	}
}
