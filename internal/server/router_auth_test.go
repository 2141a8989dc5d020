package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hapcat/hapcat-backend/internal/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v0/vote/x/", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubTokenManager{
			validateErr: auth.ErrExpiredToken,
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
	assertJSONField(t, recorder, "message", "Signature has expired")
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v0/vote/x/", http.NoBody)
	request.Header.Set("Authorization", "JWT invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	handler := &httpHandler{
		tokens: stubTokenManager{
			validateErr: auth.ErrInvalidToken,
		},
		logger: logger,
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

func TestAuthorizeRequestRejectsMissingHeaderWithoutLogging(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/v0/vote/x/", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{tokens: stubTokenManager{}, logger: zap.New(core)}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
	if recorder.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate challenge")
	}
	assertJSONField(t, recorder, "message", "Request does not contain an access token")
}

func TestAuthorizeRequestStoresIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v0/vote/x/", http.NoBody)
	request.Header.Set("Authorization", "Bearer good-token")
	ctx.Request = request

	handler := &httpHandler{
		tokens: stubTokenManager{identity: "user-123"},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected request to continue")
	}
	if ctx.GetString(identityContextKey) != "user-123" {
		t.Fatalf("expected identity in context, got %q", ctx.GetString(identityContextKey))
	}
}

func TestAuthorizeRequestValidatesIssuedTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("router-signing-secret")})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	token, _, err := issuer.IssueAccessToken(context.Background(), "user-456")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	testCases := []struct {
		name     string
		header   string
		identity string
		message  string
	}{
		{name: "bearer scheme", header: "Bearer " + token, identity: "user-456"},
		{name: "jwt scheme", header: "JWT " + token, identity: "user-456"},
		{name: "unsupported scheme", header: "Basic " + token, message: "Unsupported authorization type"},
		{name: "tampered token", header: "Bearer " + token + "x", message: "Invalid token"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, "/api/v0/vote/x/", http.NoBody)
			request.Header.Set("Authorization", testCase.header)
			ctx.Request = request

			handler := &httpHandler{tokens: issuer, logger: zap.NewNop()}
			handler.authorizeRequest(ctx)

			if testCase.message != "" {
				if recorder.Code != http.StatusUnauthorized {
					t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
				}
				assertJSONField(t, recorder, "message", testCase.message)
				return
			}
			if ctx.IsAborted() || ctx.GetString(identityContextKey) != testCase.identity {
				t.Fatalf("expected identity %q, got %q (aborted %v)", testCase.identity, ctx.GetString(identityContextKey), ctx.IsAborted())
			}
		})
	}
}

type stubTokenManager struct {
	identity    string
	validateErr error
}

func (s stubTokenManager) IssueAccessToken(context.Context, string) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubTokenManager) ValidateRequest(r *http.Request) (auth.AccessClaims, error) {
	if _, err := auth.BearerToken(r.Header.Get("Authorization")); err != nil {
		return auth.AccessClaims{}, err
	}
	if s.validateErr != nil {
		return auth.AccessClaims{}, s.validateErr
	}
	return auth.AccessClaims{Identity: s.identity}, nil
}
