package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// RequireAPIToken guards admin endpoints with a static bearer token. The
// middleware is configured with the bcrypt hash of the token, never the token
// itself. An empty hash disables the check for local development.
func RequireAPIToken(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireWebhookSignature guards an endpoint with a shared-secret signature
// check performed by verify against the raw header value. Used for outbound
// partners that call us back; Stripe verification happens in the ingest
// handler because it needs the request body.
func RequireWebhookSignature(header, secret string, verify func(secret, got string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" || !verify(secret, got) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ConstantTimeEquals is a verify func for RequireWebhookSignature comparing
// raw shared secrets.
func ConstantTimeEquals(secret, got string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), []byte(got)) == 1
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
