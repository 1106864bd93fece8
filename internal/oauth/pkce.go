package oauth

import (
	"crypto/sha256"
	"encoding/base64"
)

// verifyPKCE checks a token exchange's code_verifier against the
// code_challenge recorded at authorize time, per RFC 7636. Only the
// S256 method is supported — spec §4.5 requires PKCE and the plain
// method provides no protection worth implementing.
func verifyPKCE(method, challenge, verifier string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return computed == challenge
	default:
		return false
	}
}
