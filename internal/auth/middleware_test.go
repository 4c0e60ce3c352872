package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_AuthMiddleware_Cases(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{name: "disabled when no token configured", token: "", header: "", want: http.StatusOK},
		{name: "valid token", token: "s3cret", header: "Bearer s3cret", want: http.StatusOK},
		{name: "missing header", token: "s3cret", header: "", want: http.StatusUnauthorized},
		{name: "wrong token", token: "s3cret", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "lowercase prefix", token: "s3cret", header: "bearer s3cret", want: http.StatusUnauthorized},
		{name: "empty token value", token: "s3cret", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "extra space", token: "s3cret", header: "Bearer  s3cret", want: http.StatusUnauthorized},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(tt.token)(next)
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
