package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rental-platform/internal/audit"
	"rental-platform/internal/auth"
	"rental-platform/internal/config"
	"rental-platform/internal/lifecycle"
	"rental-platform/internal/listing"
	"rental-platform/internal/session"
	"rental-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type testAPI struct {
	router    *gin.Engine
	repo      *listing.MemoryRepo
	public    *listing.Store
	private   *listing.Store
	auditRepo *audit.MemoryRepo
	pipeline  *audit.Pipeline
	tokens    *auth.Manager
	events    []session.Event
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := auth.NewMemoryUserStore(auth.User{ID: "host-1", Email: "host@example.com", Role: "host", PasswordHash: hash})

	api := &testAPI{
		repo:      listing.NewMemoryRepo(),
		public:    listing.NewStore(listing.ScopePublic),
		private:   listing.NewStore(listing.ScopePrivileged),
		auditRepo: audit.NewMemoryRepo(),
		tokens:    tokens,
	}
	api.pipeline = audit.NewPipeline(api.auditRepo, audit.PipelineOptions{Logger: logger.Discard()})
	t.Cleanup(func() { _ = api.pipeline.Close(context.Background()) })

	bus := session.NewLocalBus()
	bus.Subscribe(func(ev session.Event) { api.events = append(api.events, ev) })

	engine := lifecycle.New(api.repo, api.pipeline, lifecycle.Options{
		Store:  api.private,
		Views:  []*listing.Store{api.public},
		Logger: logger.Discard(),
	})
	dir := audit.NewMemoryDirectory(audit.ResolvedActor{ID: "admin-1", DisplayName: "Ada"})

	h := Handlers{
		Auth:     auth.NewAuthenticator(users, tokens),
		Engine:   engine,
		Public:   api.public,
		Audit:    api.pipeline,
		Query:    audit.NewQueryService(api.auditRepo, dir, 50),
		Sessions: bus,
	}
	api.router = gin.New()
	api.router.Use(logger.Middleware(logger.Discard()))
	Register(api.router, h, tokens)
	return api
}

func (a *testAPI) token(t *testing.T, id, role string) string {
	t.Helper()
	pair, err := a.tokens.IssuePair(time.Now(), auth.Actor{ID: id, Role: role})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handlers-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) records(t *testing.T) []audit.Record {
	t.Helper()
	_ = a.pipeline.Flush(context.Background())
	return a.auditRepo.Records()
}

func decodeListing(t *testing.T, w *httptest.ResponseRecorder) listing.Listing {
	t.Helper()
	var l listing.Listing
	if err := json.Unmarshal(w.Body.Bytes(), &l); err != nil {
		t.Fatalf("decode listing: %v (%s)", err, w.Body.String())
	}
	return l
}

var cabin = map[string]any{
	"title": "Cabin", "location": "Tahoe", "currency": "USD", "price_minor": 25000, "capacity": 6,
}

func TestListingFlow_SubmitApproveFeature(t *testing.T) {
	api := newTestAPI(t)
	hostTok := api.token(t, "host-1", "host")
	adminTok := api.token(t, "admin-1", "admin")

	w := api.do(t, http.MethodPost, "/v1/listings", hostTok, cabin)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d %s", w.Code, w.Body.String())
	}
	l := decodeListing(t, w)
	if l.Status != listing.StatusPending {
		t.Fatalf("expected pending, got %s", l.Status)
	}

	w = api.do(t, http.MethodGet, "/v1/listings/"+l.ID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("pending listing must not be public, got %d", w.Code)
	}

	w = api.do(t, http.MethodPost, "/v1/admin/listings/"+l.ID+"/approve", hostTok, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("host on moderation route: expected 403, got %d", w.Code)
	}

	w = api.do(t, http.MethodPost, "/v1/admin/listings/"+l.ID+"/feature", adminTok, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("feature pending: expected 409, got %d", w.Code)
	}

	w = api.do(t, http.MethodPost, "/v1/admin/listings/"+l.ID+"/approve", adminTok, nil)
	if w.Code != http.StatusOK || decodeListing(t, w).Status != listing.StatusApproved {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}
	w = api.do(t, http.MethodPost, "/v1/admin/listings/"+l.ID+"/feature", adminTok, nil)
	if w.Code != http.StatusOK || !decodeListing(t, w).Featured {
		t.Fatalf("feature: %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodGet, "/v1/listings?featured=true", "", nil)
	var body struct {
		Listings []listing.Listing `json:"listings"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Listings) != 1 || body.Listings[0].ID != l.ID {
		t.Fatalf("expected featured listing in public feed, got %s", w.Body.String())
	}

	recs := api.records(t)
	if len(recs) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(recs))
	}
	if recs[0].Context.UserAgent != "handlers-test" || recs[0].Context.RequestID == "" {
		t.Fatalf("client context not captured: %+v", recs[0].Context)
	}
}

func TestListingMutation_PendingSyncAnswers202(t *testing.T) {
	api := newTestAPI(t)
	api.repo.FailWrites(errors.New("db down"))

	w := api.do(t, http.MethodPost, "/v1/listings", api.token(t, "host-1", "host"), cabin)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	if !decodeListing(t, w).PendingSync {
		t.Fatalf("expected pending_sync in body: %s", w.Body.String())
	}

	w = api.do(t, http.MethodGet, "/v1/admin/listings?pending_sync=true", api.token(t, "staff-1", "staff"), nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"pending_sync":true`) {
		t.Fatalf("expected dirty listing in moderation queue: %d %s", w.Code, w.Body.String())
	}
}

func TestListingMutation_ErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	hostTok := api.token(t, "host-1", "host")

	w := api.do(t, http.MethodPost, "/v1/listings", hostTok, map[string]any{"title": "No price"})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"field"`) {
		t.Fatalf("validation: expected 400 with field, got %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPatch, "/v1/listings/nope", hostTok, map[string]any{"title": "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", w.Code)
	}

	w = api.do(t, http.MethodPost, "/v1/listings", hostTok, cabin)
	id := decodeListing(t, w).ID

	w = api.do(t, http.MethodPatch, "/v1/listings/"+id, hostTok, map[string]any{"status": "approved"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status via patch: expected 400, got %d", w.Code)
	}
	w = api.do(t, http.MethodPatch, "/v1/listings/"+id, api.token(t, "host-2", "host"), map[string]any{"title": "mine now"})
	if w.Code != http.StatusConflict {
		t.Fatalf("stranger update: expected 409, got %d", w.Code)
	}
	w = api.do(t, http.MethodDelete, "/v1/listings/"+id, hostTok, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("owner delete: expected 204, got %d", w.Code)
	}
	w = api.do(t, http.MethodPost, "/v1/listings", "", cabin)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous submit: expected 401, got %d", w.Code)
	}
}

func TestLogin_AuditsAndAnnounces(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{Email: "host@example.com", Password: "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	w = api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{Email: "host@example.com", Password: "hunter22"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Tokens.AccessToken == "" {
		t.Fatalf("expected tokens in response: %s", w.Body.String())
	}

	w = api.do(t, http.MethodPost, "/v1/auth/logout", resp.Tokens.AccessToken, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", w.Code)
	}

	recs := api.records(t)
	if len(recs) != 3 {
		t.Fatalf("expected 3 session records, got %d", len(recs))
	}
	if recs[0].Action != audit.ActionLoginFailed || recs[0].Severity != audit.SeverityWarning || recs[0].ActorID != "host-1" {
		t.Fatalf("unexpected failed login record %+v", recs[0])
	}
	if recs[1].Action != audit.ActionSessionLogin || recs[2].Action != audit.ActionSessionLogout {
		t.Fatalf("unexpected session records %v %v", recs[1].Action, recs[2].Action)
	}
	if len(api.events) != 2 || api.events[0].Kind != session.KindLogin || api.events[1].Kind != session.KindLogout {
		t.Fatalf("unexpected session events %+v", api.events)
	}
}

func TestLogin_UnknownEmailIsAuditedAsAnonymous(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{Email: " Nobody@Example.com ", Password: "whatever"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	recs := api.records(t)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.Action != audit.ActionLoginFailed || r.ActorID != audit.AnonymousActor || r.ActorRole != "guest" {
		t.Fatalf("unexpected failed login record %+v", r)
	}
	if r.EntityID != "nobody@example.com" {
		t.Fatalf("expected normalized email as entity id, got %q", r.EntityID)
	}
	if len(api.events) != 0 {
		t.Fatalf("failed login must not announce a session change")
	}
}

func TestAuditFeed_FiltersAndExports(t *testing.T) {
	api := newTestAPI(t)
	hostTok := api.token(t, "host-1", "host")
	adminTok := api.token(t, "admin-1", "admin")

	for i := 0; i < 3; i++ {
		w := api.do(t, http.MethodPost, "/v1/listings", hostTok, cabin)
		id := decodeListing(t, w).ID
		api.do(t, http.MethodDelete, "/v1/listings/"+id, adminTok, nil)
	}
	_ = api.pipeline.Flush(context.Background())

	w := api.do(t, http.MethodGet, "/v1/admin/audit?severity=critical&entity_kind=listing&page_size=2", adminTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("feed: %d %s", w.Code, w.Body.String())
	}
	var res audit.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Records) != 2 || !res.HasMore {
		t.Fatalf("expected first page of 2 with more, got %d more=%v", len(res.Records), res.HasMore)
	}
	for _, r := range res.Records {
		if r.Severity != audit.SeverityCritical || r.Actor.DisplayName != "Ada" {
			t.Fatalf("unexpected record %+v", r)
		}
	}

	w = api.do(t, http.MethodGet, "/v1/admin/audit?severity=loud", adminTok, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad severity: expected 400, got %d", w.Code)
	}
	w = api.do(t, http.MethodGet, "/v1/admin/audit", hostTok, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("host on audit feed: expected 403, got %d", w.Code)
	}

	w = api.do(t, http.MethodGet, "/v1/admin/audit/export.csv?action=listing_created", adminTok, nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("export: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 created rows, got %d", len(rows))
	}

	recs := api.records(t)
	last := recs[len(recs)-1]
	if last.Action != audit.ActionAuditExported || last.ActorID != "admin-1" {
		t.Fatalf("export itself should be audited, got %+v", last)
	}

	w = api.do(t, http.MethodPost, "/v1/admin/audit/archive", adminTok, nil)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("archive without bucket: expected 501, got %d", w.Code)
	}
}
