package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/pos-terminal/internal/common"
)

// BasicAuth guards operator endpoints. An empty User disables the check.
type BasicAuth struct {
	User  string
	Pass  string
	Realm string
}

// Middleware rejects requests without matching credentials.
func (b BasicAuth) Middleware(next http.Handler) http.Handler {
	user := strings.TrimSpace(b.User)
	pass := strings.TrimSpace(b.Pass)
	if user == "" {
		return next
	}
	realm := b.Realm
	if realm == "" {
		realm = "restricted"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm="+realm)
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
