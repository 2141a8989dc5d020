package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hapcat/hapcat-backend/internal/auth"
	"github.com/hapcat/hapcat-backend/internal/objects"
	"github.com/hapcat/hapcat-backend/internal/suggestions"
	"github.com/hapcat/hapcat-backend/internal/testutil"
	"github.com/hapcat/hapcat-backend/internal/users"
	"github.com/hapcat/hapcat-backend/internal/votes"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "violet harbor quantum ledger 1987 tundra!"

type testServer struct {
	handler http.Handler
	store   *objects.Store
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDatabase(t)
	logger := zap.NewNop()

	store, err := objects.NewStore(objects.StoreConfig{Database: db, IDProvider: objects.NewUUIDProvider(), Logger: logger})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	builder, err := suggestions.NewBuilder(suggestions.Config{Source: store, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create builder: %v", err)
	}
	ledger, err := votes.NewLedger(votes.LedgerConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	accounts, err := users.NewService(users.ServiceConfig{Database: db, BcryptCost: bcrypt.MinCost, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create account service: %v", err)
	}
	secret, err := auth.LoadOrCreateSigningSecret(context.Background(), db, logger)
	if err != nil {
		t.Fatalf("failed to load signing secret: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: secret, TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Store:                 store,
		Suggestions:           builder,
		Votes:                 ledger,
		Accounts:              accounts,
		Tokens:                tokens,
		MaxSuggestedLocations: 10,
		MaxSuggestedEvents:    10,
		DebugRoutes:           true,
		Logger:                logger,
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	return testServer{handler: handler, store: store}
}

func (s testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch payload := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(payload))
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)

	decoded := map[string]any{}
	if recorder.Body.Len() > 0 {
		_ = json.Unmarshal(recorder.Body.Bytes(), &decoded)
	}
	return recorder, decoded
}

func (s testServer) register(t *testing.T, username, password string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/v0/registration/", map[string]any{
		"username":      username,
		"email":         username + "@example.com",
		"password":      password,
		"date_of_birth": map[string]int{"year": 1990, "month": 1, "day": 1},
	}, "")
}

func (s testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	recorder, body := s.do(t, http.MethodPost, "/api/v0/auth/", map[string]string{"username": username, "password": password}, "")
	if recorder.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("login failed: %d %v", recorder.Code, body)
	}
	token, _ := body["access_token"].(string)
	return token
}

func assertJSONField(t *testing.T, recorder *httptest.ResponseRecorder, field string, expected any) {
	t.Helper()
	decoded := map[string]any{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	if decoded[field] != expected {
		t.Fatalf("expected %s=%v, got %v", field, expected, decoded[field])
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestServerInfo(t *testing.T) {
	server := newTestServer(t)

	recorder, body := server.do(t, http.MethodGet, "/api/v0/serverinfo/", nil, "")
	if recorder.Code != http.StatusOK || body["server_version"] != ServerVersion {
		t.Fatalf("unexpected serverinfo %d %v", recorder.Code, body)
	}

	recorder, _ = server.do(t, http.MethodGet, "/api/serverinfo/", nil, "")
	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != "/api/v0/serverinfo/" {
		t.Fatalf("expected redirect to latest serverinfo, got %d %q", recorder.Code, recorder.Header().Get("Location"))
	}
}

func TestEntityLookups(t *testing.T) {
	server := newTestServer(t)
	testContext := context.Background()
	tag, err := server.store.CreateTag(testContext, objects.Tag{Name: "live music"})
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	raw, err := server.store.CreateRawLocation(testContext, objects.RawLocation{Address: "Risman Plaza"})
	if err != nil {
		t.Fatalf("create raw location: %v", err)
	}
	event, err := server.store.CreateEvent(testContext, objects.Event{Name: "Black Squirrel Festival", RawLocationID: raw.ID, Tags: []uuid.UUID{tag.ID}})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	testCases := []struct {
		name    string
		path    string
		status  int
		field   string
		value   any
		message string
	}{
		{name: "tag", path: "/api/v0/tag/" + tag.ID.String(), status: http.StatusOK, field: "name", value: "live music"},
		{name: "malformed tag", path: "/api/v0/tag/not-a-uuid", status: http.StatusBadRequest, field: "message", value: "Invalid tag ID"},
		{name: "unknown tag", path: "/api/v0/tag/" + uuid.NewString(), status: http.StatusBadRequest, field: "message", value: "No such tag"},
		{name: "event is not a tag", path: "/api/v0/tag/" + event.ID.String(), status: http.StatusBadRequest, field: "message", value: "No such tag"},
		{name: "raw location", path: "/api/v0/location/" + raw.ID.String(), status: http.StatusOK, field: "ephemeral", value: true},
		{name: "malformed location", path: "/api/v0/location/xyz", status: http.StatusBadRequest, field: "message", value: "Invalid location ID"},
		{name: "event", path: "/api/v0/event/" + event.ID.String(), status: http.StatusOK, field: "location", value: raw.ID.String()},
		{name: "unknown event", path: "/api/v0/event/" + uuid.NewString(), status: http.StatusBadRequest, field: "message", value: "No such event"},
		{name: "unknown api version", path: "/api/v9/tag/" + tag.ID.String(), status: http.StatusNotFound},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder, body := server.do(t, http.MethodGet, testCase.path, nil, "")
			if recorder.Code != testCase.status {
				t.Fatalf("expected status %d, got %d (%s)", testCase.status, recorder.Code, recorder.Body.String())
			}
			if testCase.field != "" && body[testCase.field] != testCase.value {
				t.Fatalf("expected %s=%v, got %v", testCase.field, testCase.value, body)
			}
			if testCase.status == http.StatusBadRequest && body["status"] != "failure" {
				t.Fatalf("expected failure status, got %v", body)
			}
		})
	}
}

func TestRegistrationFlow(t *testing.T) {
	server := newTestServer(t)

	recorder, body := server.register(t, "alice", strongPassword)
	if recorder.Code != http.StatusOK || body["status"] != "success" || body["username"] != "alice" {
		t.Fatalf("unexpected registration response %d %v", recorder.Code, body)
	}

	recorder, body = server.register(t, "alice", "another "+strongPassword)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %v", recorder.Code, body)
	}
	if body["status"] != "failure" || body["username"] != "alice" || body["message"] != "Username already exists" {
		t.Fatalf("unexpected conflict body %v", body)
	}

	recorder, body = server.register(t, "bob", "password")
	if recorder.Code != http.StatusBadRequest || body["message"] != "Insufficiently secure password" {
		t.Fatalf("expected weak password rejection, got %d %v", recorder.Code, body)
	}
	details, ok := body["details"].(map[string]any)
	if !ok || details["warning"] == "" {
		t.Fatalf("expected structured details, got %v", body["details"])
	}

	recorder, body = server.do(t, http.MethodPost, "/api/v0/register/", "{not json", "")
	if recorder.Code != http.StatusBadRequest || body["message"] != messageInvalidRequestJSON {
		t.Fatalf("expected invalid JSON rejection, got %d %v", recorder.Code, body)
	}

	recorder, body = server.do(t, http.MethodPost, "/api/v0/register/", map[string]any{
		"username":      "carol",
		"email":         "carol@example.com",
		"password":      strongPassword,
		"date_of_birth": map[string]int{"year": 1990, "month": 2, "day": 30},
	}, "")
	if recorder.Code != http.StatusBadRequest || body["message"] != messageInvalidRequestJSON {
		t.Fatalf("expected impossible date rejection, got %d %v", recorder.Code, body)
	}
}

func TestConcurrentRegistrationThroughAPI(t *testing.T) {
	server := newTestServer(t)
	codes := make(chan int, 2)
	var waitGroup sync.WaitGroup
	for i := 0; i < 2; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			recorder, _ := server.register(t, "alice", strongPassword)
			codes <- recorder.Code
		}()
	}
	waitGroup.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	if counts[http.StatusOK] != 1 || counts[http.StatusConflict] != 1 {
		t.Fatalf("expected one success and one conflict, got %v", counts)
	}
}

func TestLoginFailures(t *testing.T) {
	server := newTestServer(t)
	server.register(t, "alice", strongPassword)

	recorder, body := server.do(t, http.MethodPost, "/api/v0/login/", map[string]string{"username": "alice"}, "")
	if recorder.Code != http.StatusUnauthorized || body["message"] != messageInvalidRequestJSON || body["success"] != false {
		t.Fatalf("expected invalid request rejection, got %d %v", recorder.Code, body)
	}
	recorder, body = server.do(t, http.MethodPost, "/api/v0/auth/", map[string]string{"username": "alice", "password": "wrong"}, "")
	if recorder.Code != http.StatusUnauthorized || body["message"] != "Invalid credentials" {
		t.Fatalf("expected invalid credentials, got %d %v", recorder.Code, body)
	}
}

func TestVoteFlow(t *testing.T) {
	server := newTestServer(t)
	testContext := context.Background()
	raw, err := server.store.CreateRawLocation(testContext, objects.RawLocation{Address: "175 E Main St"})
	if err != nil {
		t.Fatalf("create raw location: %v", err)
	}
	location, err := server.store.CreateLocation(testContext, objects.Location{Name: "The Kent Stage", RawLocationID: raw.ID})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	server.register(t, "alice", strongPassword)
	token := server.login(t, "alice", strongPassword)

	recorder, body := server.do(t, http.MethodGet, "/api/v0/vote/"+location.ID.String()+"/", nil, "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without token, got %d", recorder.Code)
	}

	for expected := 1.0; expected <= 2; expected++ {
		recorder, body = server.do(t, http.MethodGet, "/api/v0/vote/"+location.ID.String()+"/", nil, token)
		if recorder.Code != http.StatusOK || body["success"] != true || body["numvotes"] != expected || body["username"] != "alice" {
			t.Fatalf("unexpected vote response %d %v", recorder.Code, body)
		}
	}

	recorder, body = server.do(t, http.MethodGet, "/api/v0/vote/not-a-uuid/", nil, token)
	if recorder.Code != http.StatusBadRequest || body["message"] != "Invalid UUID" || body["username"] != "alice" {
		t.Fatalf("expected invalid UUID, got %d %v", recorder.Code, body)
	}
	recorder, body = server.do(t, http.MethodGet, "/api/v0/vote/"+raw.ID.String()+"/", nil, token)
	if recorder.Code != http.StatusBadRequest || body["message"] != "No such votable" {
		t.Fatalf("expected raw location to be unvotable, got %d %v", recorder.Code, body)
	}

	recorder, body = server.do(t, http.MethodGet, "/debug/protectedtest/", nil, token)
	if recorder.Code != http.StatusOK || body["username"] != "alice" {
		t.Fatalf("unexpected protected test response %d %v", recorder.Code, body)
	}

	server.do(t, http.MethodGet, "/debug/dropalldata/", nil, "")
	recorder, body = server.do(t, http.MethodGet, "/api/v0/vote/"+location.ID.String()+"/", nil, token)
	if recorder.Code != http.StatusBadRequest || body["message"] != "No such user" {
		t.Fatalf("expected deleted user to be reported, got %d %v", recorder.Code, body)
	}
}

func TestSuggestionsAndDebugRoutes(t *testing.T) {
	server := newTestServer(t)

	recorder, body := server.do(t, http.MethodGet, "/debug/reloadtestdata/", nil, "")
	if recorder.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("unexpected reload response %d %v", recorder.Code, body)
	}
	recorder, body = server.do(t, http.MethodGet, "/debug/reloadtestdata/", nil, "")
	if recorder.Code != http.StatusOK || body["created"] != 0.0 {
		t.Fatalf("expected reload to be idempotent, got %d %v", recorder.Code, body)
	}

	recorder, body = server.do(t, http.MethodGet, "/api/v0/suggestions/", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected suggestions status %d", recorder.Code)
	}
	for _, section := range []string{"locations", "events", "tags"} {
		if entries, ok := body[section].(map[string]any); !ok || len(entries) == 0 {
			t.Fatalf("expected non-empty %s, got %v", section, body[section])
		}
	}
	order, ok := body["order"].([]any)
	if !ok || len(order) == 0 {
		t.Fatalf("expected order entries, got %v", body["order"])
	}
	for _, raw := range order {
		entry := raw.(map[string]any)
		section := entry["section"].(string)
		if section != "locations" && section != "events" {
			t.Fatalf("unexpected section %q", section)
		}
		if _, ok := body[section].(map[string]any)[entry["id"].(string)]; !ok {
			t.Fatalf("order entry %v missing from its section", entry)
		}
	}

	recorder, body = server.do(t, http.MethodGet, "/", nil, "")
	if recorder.Code != http.StatusOK || body["/api/v0/suggestions/"] == nil {
		t.Fatalf("expected route dump, got %d %v", recorder.Code, body)
	}

	recorder, body = server.do(t, http.MethodGet, "/debug/dropalldata/", nil, "")
	if recorder.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("unexpected drop response %d %v", recorder.Code, body)
	}
	recorder, body = server.do(t, http.MethodGet, "/api/v0/event/b0a28a40-b8ad-4131-8c64-071f3fd45bee", nil, "")
	if recorder.Code != http.StatusBadRequest || body["message"] != "No such event" {
		t.Fatalf("expected seeded event gone, got %d %v", recorder.Code, body)
	}
}

func TestLocationLookupServesCuratedLocationForItsRawLocation(t *testing.T) {
	server := newTestServer(t)
	testContext := context.Background()
	raw, err := server.store.CreateRawLocation(testContext, objects.RawLocation{Address: "175 E Main St"})
	if err != nil {
		t.Fatalf("create raw location: %v", err)
	}
	location, err := server.store.CreateLocation(testContext, objects.Location{Name: "The Kent Stage", RawLocationID: raw.ID})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}

	recorder, body := server.do(t, http.MethodGet, "/api/v0/location/"+raw.ID.String(), nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	if body["ephemeral"] != false || body["name"] != "The Kent Stage" || body["id"] != location.ID.String() {
		t.Fatalf("expected curated location document, got %v", body)
	}
}
