package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
	"rigscout/internal/pipeline"
	"rigscout/internal/risk"
	"rigscout/internal/specs"
	"rigscout/internal/valuation"
)

type fixedQueue struct{}

func (fixedQueue) Depth() int    { return 4 }
func (fixedQueue) InFlight() int { return 2 }

func seed(t *testing.T) (*Server, pipeline.Deal) {
	t.Helper()
	deals := pipeline.New(pipeline.NewMemoryStore(), nil, zerolog.Nop())
	draft := listing.Draft{ExternalID: "1", Platform: listing.PlatformOfferUp, Title: "RTX 3060 tower", Price: decimal.NewFromInt(300)}
	fmv := valuation.FMVResult{Total: decimal.NewFromInt(450), Confidence: 0.6, PriceTableVersion: "v1"}
	c := pipeline.NewCandidate(draft, specs.ComponentSet{}, fmv, risk.Assessment{Recommendation: risk.Safe}, valuation.OfferAnchors{}, time.Now())
	d, err := deals.CreateDeal(context.Background(), c)
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return NewServer(deals, nil, fixedQueue{}, zerolog.Nop()), d
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestListAndGetDeals(t *testing.T) {
	s, d := seed(t)

	rec := do(t, s, http.MethodGet, "/api/v1/deals?stage=discovered&min_profit=100", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var list []pipeline.Deal
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != d.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/deals?min_profit=500", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 0 {
		t.Fatalf("profit filter not applied: %s", rec.Body.String())
	}

	if rec := do(t, s, http.MethodGet, "/api/v1/deals?stage=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/deals/"+d.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/deals/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTransitionEndpoint(t *testing.T) {
	s, d := seed(t)
	path := "/api/v1/deals/" + d.ID + "/transition"

	rec := do(t, s, http.MethodPost, path, `{"stage":"negotiating"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var got pipeline.Deal
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.Stage != pipeline.StageNegotiating {
		t.Fatalf("unexpected deal %+v %v", got, err)
	}

	if rec := do(t, s, http.MethodPost, path, `{"stage":"contacted"}`); rec.Code != http.StatusConflict {
		t.Fatalf("backwards transition should be 409, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, path, `{"stage":"teleported"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown stage should be 400, got %d", rec.Code)
	}
}

func TestNotesAndTasksEndpoints(t *testing.T) {
	s, d := seed(t)

	if rec := do(t, s, http.MethodPost, "/api/v1/deals/"+d.ID+"/notes", `{"body":"asked for benchmarks"}`); rec.Code != http.StatusCreated {
		t.Fatalf("add note: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodPost, "/api/v1/deals/"+d.ID+"/notes", `{"body":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank note should be 400, got %d", rec.Code)
	}

	rec := do(t, s, http.MethodPost, "/api/v1/deals/"+d.ID+"/tasks", `{"title":"pick up saturday"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add task: %d %s", rec.Code, rec.Body.String())
	}
	var task pipeline.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil || task.ID == "" {
		t.Fatalf("decode task: %v %+v", err, task)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/deals/"+d.ID+"/tasks/"+task.ID+"/complete", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete task: %d", rec.Code)
	}
	var got pipeline.Deal
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode deal: %v", err)
	}
	if len(got.Notes) != 1 || got.OpenTasks() != 0 || got.Stage != pipeline.StageDiscovered {
		t.Fatalf("unexpected deal %+v", got)
	}

	if rec := do(t, s, http.MethodPost, "/api/v1/deals/"+d.ID+"/tasks/missing/complete", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown task should be 404, got %d", rec.Code)
	}
}

func TestStatsAndScanner(t *testing.T) {
	s, _ := seed(t)

	rec := do(t, s, http.MethodGet, "/api/v1/stats", "")
	var st struct {
		Counts map[string]int `json:"counts"`
		Total  int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Total != 1 || st.Counts["discovered"] != 1 || st.Counts["sold"] != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/scanner", "")
	var q map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil || q["depth"] != 4 || q["in_flight"] != 2 {
		t.Fatalf("unexpected scanner status %s", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/v1/targets", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("unexpected targets response %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
}
