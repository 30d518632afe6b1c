package statusapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"partnercore/internal/adapters/statusapi"
	"partnercore/internal/core"
	"partnercore/internal/notify"
	"partnercore/internal/permissions"
	"partnercore/pkg/domain"
)

const tenant = "ke"

var (
	traveler   = domain.Actor{UserID: "trv", Email: "trv@unicef.org", Tenant: tenant}
	supervisor = domain.Actor{UserID: "sup", Email: "sup@unicef.org", Tenant: tenant}
	stranger   = domain.Actor{UserID: "x", Email: "x@unicef.org", Tenant: tenant}
)

type harness struct {
	svc     *core.Service
	handler *statusapi.Handler
	mem     *notify.Memory
	outbox  *notify.Dispatcher
}

func setup(t *testing.T) *harness {
	t.Helper()
	rules, err := permissions.DefaultRules()
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	def, err := permissions.DefaultDefinition(rules)
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	m, err := permissions.Build(def)
	if err != nil {
		t.Fatalf("build matrix: %v", err)
	}
	mem := notify.NewMemory()
	outbox, err := notify.NewDispatcher(mem, mem, notify.DispatcherConfig{Workers: 1, QueueSize: 32}, zerolog.Nop())
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	svc := core.NewInMemoryService(core.StaticMatrix(m),
		core.WithClock(core.ClockFunc(func() time.Time { return time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC) })),
		core.WithOutbox(outbox),
	)
	return &harness{svc: svc, handler: statusapi.NewHandler(svc, zerolog.Nop()), mem: mem, outbox: outbox}
}

func (h *harness) do(t *testing.T, actor domain.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor.UserID != "" {
		req.Header.Set(statusapi.HeaderUser, actor.UserID)
	}
	if actor.Email != "" {
		req.Header.Set(statusapi.HeaderEmail, actor.Email)
	}
	if actor.Tenant != "" {
		req.Header.Set(statusapi.HeaderTenant, actor.Tenant)
	}
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	return resp
}

type errorResponse struct {
	Error struct {
		Kind    domain.ErrorKind   `json:"kind"`
		Message string             `json:"message"`
		Fields  domain.FieldErrors `json:"fields"`
	} `json:"error"`
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
	return out
}

func (h *harness) createTrip(t *testing.T) string {
	t.Helper()
	resp := h.do(t, traveler, http.MethodPost, "/api/v1/documents/travel", map[string]any{"patch": map[string]any{
		"purpose":            "School visits",
		"supervisor.user_id": supervisor.UserID,
		"supervisor.email":   supervisor.Email,
		"start_date":         "2024-06-01T00:00:00Z",
		"end_date":           "2024-06-03T00:00:00Z",
	}})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.Code, resp.Body.String())
	}
	body := decode[struct {
		Document map[string]any `json:"document"`
	}](t, resp)
	id, _ := body.Document["id"].(string)
	if id == "" {
		t.Fatalf("created document has no id: %v", body.Document)
	}
	if _, visible := body.Document["expenses"]; visible {
		t.Fatalf("traveler must not see expenses while planned")
	}
	return id
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestTravelRoundTripOverHTTP(t *testing.T) {
	h := setup(t)
	id := h.createTrip(t)
	base := "/api/v1/documents/travel/" + id

	status := decode[core.StatusView](t, h.do(t, traveler, http.MethodGet, base+"/status", nil))
	if status.CurrentStatus != domain.StatusPlanned || status.Version != 1 {
		t.Fatalf("unexpected status view: %+v", status)
	}
	if !contains(status.AllowedTransitions, "submit_for_approval") {
		t.Fatalf("traveler should be able to submit: %v", status.AllowedTransitions)
	}

	resp := h.do(t, traveler, http.MethodPost, base+"/transitions", map[string]any{"transition": "submit_for_approval"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("submit without itinerary: %d %s", resp.Code, resp.Body.String())
	}
	failed := decode[errorResponse](t, resp)
	if failed.Error.Kind != domain.ErrKindValidationFailed || len(failed.Error.Fields["itinerary"]) == 0 {
		t.Fatalf("expected itinerary failure, got %+v", failed.Error)
	}

	ref := domain.Ref{Tenant: tenant, Kind: domain.KindTravel, ID: id}
	leg := domain.ItineraryItem{
		Origin: "Nairobi", Destination: "Kisumu",
		DepartureDate: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		ArrivalDate:   time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	if _, err := h.svc.AddItinerary(context.Background(), core.Scope{Actor: traveler, Ref: ref}, leg); err != nil {
		t.Fatalf("add itinerary: %v", err)
	}

	resp = h.do(t, traveler, http.MethodPost, base+"/transitions", map[string]any{"transition": "submit_for_approval", "expected_version": 1})
	if resp.Code != http.StatusPreconditionFailed {
		t.Fatalf("stale version: %d %s", resp.Code, resp.Body.String())
	}

	resp = h.do(t, supervisor, http.MethodPost, base+"/transitions", map[string]any{"transition": "approve"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("approve from planned: %d %s", resp.Code, resp.Body.String())
	}

	resp = h.do(t, traveler, http.MethodPost, base+"/transitions", map[string]any{"transition": "submit_for_approval", "expected_version": 2})
	if resp.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.Code, resp.Body.String())
	}
	fired := decode[struct {
		From     domain.Status   `json:"from"`
		To       domain.Status   `json:"to"`
		Status   core.StatusView `json:"status"`
		Notified int             `json:"notified"`
	}](t, resp)
	if fired.From != domain.StatusPlanned || fired.To != domain.StatusSubmitted || fired.Notified != 1 {
		t.Fatalf("unexpected transition response: %+v", fired)
	}
	if fired.Status.ReferenceNumber == "" || fired.Status.Version != 3 {
		t.Fatalf("submitted trip should be numbered at version 3: %+v", fired.Status)
	}

	resp = h.do(t, stranger, http.MethodPost, base+"/transitions", map[string]any{"transition": "approve"})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("stranger approve: %d %s", resp.Code, resp.Body.String())
	}

	status = decode[core.StatusView](t, h.do(t, supervisor, http.MethodGet, base+"/status", nil))
	if !contains(status.AllowedTransitions, "approve") || !contains(status.AllowedTransitions, "reject") {
		t.Fatalf("supervisor transitions: %v", status.AllowedTransitions)
	}

	history := decode[struct {
		History []domain.HistoryRecord `json:"history"`
	}](t, h.do(t, traveler, http.MethodGet, base+"/history?meaningful=true", nil))
	if len(history.History) != 2 || history.History[1].Transition != "submit_for_approval" {
		t.Fatalf("meaningful history: %+v", history.History)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.outbox.Close(ctx); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}
	msgs := h.mem.Messages()
	if len(msgs) != 1 || msgs[0].Template != notify.TripSubmitted {
		t.Fatalf("expected one trip submitted notification, got %+v", msgs)
	}
	if len(h.mem.Invalidations()) == 0 {
		t.Fatalf("expected cache invalidations")
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	h := setup(t)
	id := h.createTrip(t)
	resp := h.do(t, traveler, http.MethodGet, "/api/v1/documents/travel/"+id+"/permissions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("permissions: %d %s", resp.Code, resp.Body.String())
	}
	body := decode[struct {
		Permissions map[string]permissions.Rights `json:"permissions"`
	}](t, resp)
	if r := body.Permissions["purpose"]; !r.View || !r.Edit {
		t.Fatalf("purpose rights: %+v", r)
	}
	if r := body.Permissions["traveler"]; r.Edit {
		t.Fatalf("traveler must not edit own traveler field")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	h := setup(t)
	id := h.createTrip(t)
	base := "/api/v1/documents/travel/" + id

	resp := h.do(t, traveler, http.MethodPatch, base, map[string]any{"patch": map[string]any{"purpose": "Training"}, "expected_version": 1})
	if resp.Code != http.StatusOK {
		t.Fatalf("update: %d %s", resp.Code, resp.Body.String())
	}
	resp = h.do(t, traveler, http.MethodPatch, base, map[string]any{"patch": map[string]any{"colour": "blue"}})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown field: %d %s", resp.Code, resp.Body.String())
	}
	resp = h.do(t, traveler, http.MethodDelete, base, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", resp.Code, resp.Body.String())
	}
	resp = h.do(t, traveler, http.MethodGet, base, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("read deleted: %d %s", resp.Code, resp.Body.String())
	}
}

func TestRequestErrors(t *testing.T) {
	h := setup(t)
	id := h.createTrip(t)
	cases := []struct {
		name   string
		actor  domain.Actor
		method string
		path   string
		body   any
		want   int
	}{
		{"anonymous", domain.Actor{Tenant: tenant}, http.MethodGet, "/api/v1/documents/travel/" + id + "/status", nil, http.StatusForbidden},
		{"no tenant", domain.Actor{UserID: "trv"}, http.MethodGet, "/api/v1/documents/travel/" + id + "/status", nil, http.StatusForbidden},
		{"other tenant", domain.Actor{UserID: "trv", Tenant: "ug"}, http.MethodGet, "/api/v1/documents/travel/" + id + "/status", nil, http.StatusNotFound},
		{"unknown kind", traveler, http.MethodGet, "/api/v1/documents/invoice/" + id + "/status", nil, http.StatusUnprocessableEntity},
		{"unknown transition", traveler, http.MethodPost, "/api/v1/documents/travel/" + id + "/transitions", map[string]any{"transition": "teleport"}, http.StatusUnprocessableEntity},
		{"missing transition", traveler, http.MethodPost, "/api/v1/documents/travel/" + id + "/transitions", map[string]any{}, http.StatusBadRequest},
		{"bad history flag", traveler, http.MethodGet, "/api/v1/documents/travel/" + id + "/history?meaningful=maybe", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(t, tc.actor, tc.method, tc.path, tc.body)
			if resp.Code != tc.want {
				t.Fatalf("want %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/travel/"+id+"/transitions", bytes.NewBufferString("{"))
	req.Header.Set(statusapi.HeaderUser, traveler.UserID)
	req.Header.Set(statusapi.HeaderTenant, tenant)
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: %d", resp.Code)
	}
}

func TestStatusCodeTable(t *testing.T) {
	want := map[domain.ErrorKind]int{
		domain.ErrKindPermissionDenied: http.StatusForbidden,
		domain.ErrKindInvalidState:     http.StatusConflict,
		domain.ErrKindValidationFailed: http.StatusBadRequest,
		domain.ErrKindConflict:         http.StatusPreconditionFailed,
		domain.ErrKindBusy:             http.StatusServiceUnavailable,
		domain.ErrKindNotFound:         http.StatusNotFound,
		domain.ErrKindUnknownSubject:   http.StatusUnprocessableEntity,
		domain.ErrKindIntegrity:        http.StatusConflict,
		"":                             http.StatusInternalServerError,
	}
	for kind, code := range want {
		if got := statusapi.StatusCode(kind); got != code {
			t.Errorf("%q: want %d, got %d", kind, code, got)
		}
	}
}

func TestActorFromRequestSplitsGroups(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(statusapi.HeaderEmail, "pm@unicef.org")
	req.Header.Set(statusapi.HeaderTenant, tenant)
	req.Header.Set(statusapi.HeaderOrgKind, string(domain.OrgUnicef))
	req.Header.Set(statusapi.HeaderGroups, "Partnership Manager, UNICEF User,")
	actor, err := statusapi.ActorFromRequest(req)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if len(actor.Groups) != 2 || !actor.InGroup("UNICEF User") || actor.OrgKind != domain.OrgUnicef {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}
