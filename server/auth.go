package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// BearerTokenValidator returns an AuthValidator that requires a matching
// bearer token on every RPC request.
func BearerTokenValidator(token string) AuthValidator {
	return func(r *http.Request, card *a2a.AgentCard) error {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return fmt.Errorf("missing bearer token")
		}
		presented := strings.TrimPrefix(header, prefix)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return fmt.Errorf("invalid bearer token")
		}
		return nil
	}
}
