package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT("operator")
	if err != nil {
		t.Fatalf("GenerateJWT returned error: %v", err)
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT returned error: %v", err)
	}
	if claims["sub"] != "operator" {
		t.Errorf("sub claim = %v, want operator", claims["sub"])
	}
	if claims["role"] != "operator" {
		t.Errorf("role claim = %v, want operator", claims["role"])
	}
}

func TestValidateJWTRejectsGarbage(t *testing.T) {
	if _, err := ValidateJWT("not.a.token"); err == nil {
		t.Fatal("garbage token was accepted")
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := GenerateJWT("operator")
		if err != nil {
			t.Fatalf("GenerateJWT returned error: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})
}

func TestVerifyOperator(t *testing.T) {
	t.Setenv("OPERATOR_USERNAME", "admin")
	t.Setenv("OPERATOR_PASSWORD", "hunter2")
	ResetOperatorForTests()
	t.Cleanup(ResetOperatorForTests)

	if err := VerifyOperator("admin", "hunter2"); err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if err := VerifyOperator("admin", "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
	if err := VerifyOperator("someone", "hunter2"); err == nil {
		t.Fatal("unknown operator accepted")
	}
}

func TestVerifyOperatorDisabledWithoutPassword(t *testing.T) {
	t.Setenv("OPERATOR_USERNAME", "admin")
	t.Setenv("OPERATOR_PASSWORD", "")
	t.Setenv("OPERATOR_PASSWORD_HASH", "")
	ResetOperatorForTests()
	t.Cleanup(ResetOperatorForTests)

	if err := VerifyOperator("admin", "anything"); err == nil {
		t.Fatal("login succeeded with no configured password")
	}
}
