package httpd

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type SigConfig struct {
	Secret        string
	MaxAgeSeconds int64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Sign returns the hex HMAC-SHA256 of body + "." + ts.
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("." + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

func SignatureMiddleware(cfg SigConfig) func(next http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				ts := r.Header.Get("X-Timestamp")
				sig := r.Header.Get("X-Signature")

				if ts == "" || sig == "" {
					http.Error(w, "missing signature headers", http.StatusUnauthorized)
					return
				}

				tsInt, err := strconv.ParseInt(ts, 10, 64)
				if err != nil {
					http.Error(w, "invalid timestamp", http.StatusUnauthorized)
					return
				}

				age := now().Unix() - tsInt
				if age < 0 {
					age = -age
				}
				if cfg.MaxAgeSeconds > 0 && age > cfg.MaxAgeSeconds {
					http.Error(w, "signature expired", http.StatusUnauthorized)
					return
				}

				bodyBytes, err := io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, "read body error", http.StatusBadRequest)
					return
				}

				r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

				expected := Sign(cfg.Secret, bodyBytes, ts)
				if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
					log.Printf("WARN: Rejected %s %s: invalid signature", r.Method, r.URL.Path)
					http.Error(w, "invalid signature", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

type contextKey string

const operatorKey contextKey = "operator"

// OperatorMiddleware resolves X-Operator-Token to an operator id. Requests
// with a missing or unknown token are rejected.
func OperatorMiddleware(tokens map[string]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get("X-Operator-Token"))
			if token == "" {
				http.Error(w, "missing operator token", http.StatusUnauthorized)
				return
			}

			operator := ""
			for known, id := range tokens {
				if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
					operator = id
				}
			}
			if operator == "" {
				http.Error(w, "invalid operator token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFrom extracts the authenticated operator id from ctx.
func OperatorFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(operatorKey).(string)
	return id, ok && id != ""
}
