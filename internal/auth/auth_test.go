package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// --- mock store ---

type mockAccountLookup struct {
	accounts map[string]*Account
}

func (m *mockAccountLookup) GetByKeyHash(ctx context.Context, hash string) (*Account, error) {
	account, ok := m.accounts[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return account, nil
}

// --- GenerateAPIKey tests ---

func TestGenerateAPIKey_PrefixAndLength(t *testing.T) {
	key, plaintext, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}

	if !strings.HasPrefix(plaintext, "clawsight_") {
		t.Errorf("plaintext key should start with 'clawsight_', got %q", plaintext)
	}

	// "clawsight_" (10) + 32 random chars = 42
	if len(plaintext) != 42 {
		t.Errorf("expected plaintext length 42, got %d", len(plaintext))
	}

	if key.Prefix != plaintext[:14] {
		t.Errorf("expected prefix %q, got %q", plaintext[:14], key.Prefix)
	}

	if key.Hash == "" {
		t.Error("expected non-empty hash")
	}
}

func TestGenerateAPIKey_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, plaintext, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if seen[plaintext] {
			t.Fatalf("duplicate key generated: %s", plaintext)
		}
		seen[plaintext] = true
	}
}

// --- HashKey tests ---

func TestHashKey_Deterministic(t *testing.T) {
	key := "clawsight_testkey1234567890abcdefghij"
	h1 := HashKey(key)
	h2 := HashKey(key)
	if h1 != h2 {
		t.Errorf("HashKey should be deterministic: %q != %q", h1, h2)
	}
}

func TestHashKey_DifferentInputs(t *testing.T) {
	h1 := HashKey("clawsight_key_aaa")
	h2 := HashKey("clawsight_key_bbb")
	if h1 == h2 {
		t.Error("different keys should produce different hashes")
	}
}

func TestHashKey_Length(t *testing.T) {
	h := HashKey("anything")
	// SHA-256 produces 64 hex characters
	if len(h) != 64 {
		t.Errorf("expected hash length 64, got %d", len(h))
	}
}

// --- Context helpers tests ---

func TestAccountContext_RoundTrip(t *testing.T) {
	account := &Account{ID: "a1", Name: "test-account", WalletAddress: "0x1111111111111111111111111111111111111111"}
	ctx := ContextWithAccount(context.Background(), account)
	got := AccountFromContext(ctx)
	if got == nil {
		t.Fatal("expected account from context, got nil")
	}
	if got.ID != account.ID {
		t.Errorf("expected ID %q, got %q", account.ID, got.ID)
	}
}

func TestAccountFromContext_Empty(t *testing.T) {
	got := AccountFromContext(context.Background())
	if got != nil {
		t.Errorf("expected nil from empty context, got %+v", got)
	}
}

// --- AccountAuthMiddleware tests ---

func TestAccountAuthMiddleware(t *testing.T) {
	plaintext := "clawsight_validkey1234567890abcdefgh"
	hash := HashKey(plaintext)

	store := &mockAccountLookup{
		accounts: map[string]*Account{
			hash: {ID: "acc-1", Name: "TestAccount"},
		},
	}
	svc := NewService(store)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		if account == nil {
			t.Error("expected account in context inside handler")
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantError  bool
	}{
		{
			name:       "valid key",
			authHeader: "Bearer " + plaintext,
			wantStatus: http.StatusOK,
			wantError:  false,
		},
		{
			name:       "invalid key",
			authHeader: "Bearer clawsight_wrongkey000000000000000000",
			wantStatus: http.StatusUnauthorized,
			wantError:  true,
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
			wantError:  true,
		},
		{
			name:       "malformed header no bearer",
			authHeader: "Token " + plaintext,
			wantStatus: http.StatusUnauthorized,
			wantError:  true,
		},
		{
			name:       "bearer only no token",
			authHeader: "Bearer",
			wantStatus: http.StatusUnauthorized,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			handler := AccountAuthMiddleware(svc)(okHandler)
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}

			if tt.wantError {
				assertJSONError(t, rr, "unauthorized")
			}
		})
	}
}

// --- AdminKeyMiddleware tests ---

func TestAdminKeyMiddleware(t *testing.T) {
	adminKey := "super-secret-admin-key"

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid admin key",
			authHeader: "Bearer " + adminKey,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong admin key",
			authHeader: "Bearer wrong-key",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "malformed header",
			authHeader: "Basic " + adminKey,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			handler := AdminKeyMiddleware(adminKey)(okHandler)
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}

			if tt.wantCode != "" {
				assertJSONError(t, rr, tt.wantCode)
			}
		})
	}
}

func TestAdminKeyMiddleware_DisabledWhenUnconfigured(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()

	AdminKeyMiddleware("")(okHandler).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 when admin key unset, got %d", rr.Code)
	}
}

// assertJSONError checks that the response body contains the expected error JSON structure.
func assertJSONError(t *testing.T, rr *httptest.ResponseRecorder, wantCode string) {
	t.Helper()

	ct := rr.Header().Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if resp.Error.Code != wantCode {
		t.Errorf("expected error code %q, got %q", wantCode, resp.Error.Code)
	}
	if resp.Error.Message == "" {
		t.Error("expected non-empty error message")
	}
}
