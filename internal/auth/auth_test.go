package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"llm-gateway/internal/config"
	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/testutil"
)

func testService() *Service {
	return NewService(&testutil.MockDatabase{}, config.AuthConfig{
		JWTSecret:       []byte("0123456789abcdef0123456789abcdef"),
		TokenExpiration: time.Hour,
	})
}

func TestTokenRoundTrip(t *testing.T) {
	service := testService()
	account := &db.Account{ID: "acct-1", Username: "tester"}

	token, err := service.GenerateToken(account)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := service.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.AccountID != "acct-1" || claims.Username != "tester" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := testService().GenerateToken(&db.Account{ID: "acct-1", Username: "tester"})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	other := NewService(&testutil.MockDatabase{}, config.AuthConfig{
		JWTSecret:       []byte("ffffffffffffffffffffffffffffffff"),
		TokenExpiration: time.Hour,
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("token signed with a different secret must not validate")
	}
}

func TestMiddleware(t *testing.T) {
	service := testService()
	token, _ := service.GenerateToken(&db.Account{ID: "acct-1", Username: "tester"})

	var gotAccountID string
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccountID, _ = AccountIDFromContext(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{name: "bearer header", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "query token fallback", query: token, wantStatus: http.StatusOK},
		{name: "missing token", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-token", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAccountID = ""
			url := "/api/usage"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && gotAccountID != "acct-1" {
				t.Errorf("account id = %q, want acct-1", gotAccountID)
			}
		})
	}
}
