package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"dbimage/internal/auth"
)

// withUploadAuth requires a bearer token matching the configured bcrypt
// hash. It is a no-op when no hash is configured. Clients that keep sending
// bad tokens are refused with 429 until their block expires.
func (s *Server) withUploadAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.uploadTokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		client := requestClientIP(r)
		now := time.Now()
		if s.authFailures.Blocked(client, now) {
			err := apiError{
				status:  http.StatusTooManyRequests,
				code:    "resource_exhausted",
				errCode: ErrCodeResourceExhausted,
				err:     fmt.Errorf("too many failed upload token attempts"),
			}
			s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
			return
		}

		token, ok := bearerToken(r)
		if !ok || !auth.VerifyToken(s.uploadTokenHash, token) {
			s.authFailures.Fail(client, now)
			s.writeErrorReq(w, r, http.StatusUnauthorized, unauthorized(fmt.Errorf("valid upload token required")))
			return
		}
		s.authFailures.Succeed(client)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func requestClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remote)
	if err == nil {
		return strings.TrimSpace(host)
	}
	return remote
}
