package dispatch

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"

	"github.com/parsec-io/parsec-server/lib/types"
)

// authHeaders is the parsed content of the Author/Signature headers an
// authenticated request must carry (spec §4.2/§4.3): the caller's device id
// and an ed25519 signature over the raw request body.
type authHeaders struct {
	Device    types.DeviceID
	Signature []byte
}

// parseAuthHeaders reads and decodes the Author and Signature headers.
func parseAuthHeaders(r *http.Request) (authHeaders, error) {
	author := r.Header.Get("Author")
	sig := r.Header.Get("Signature")
	if author == "" || sig == "" {
		return authHeaders{}, types.Simple(types.ErrInvalidAuthentication)
	}

	device, err := types.ParseDeviceID(author)
	if err != nil {
		return authHeaders{}, types.Simple(types.ErrInvalidAuthentication)
	}

	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return authHeaders{}, types.Simple(types.ErrInvalidAuthentication)
	}

	return authHeaders{Device: device, Signature: raw}, nil
}

// verifyEd25519 is the authctx.ResolveAuthenticated verify callback: the
// device's stored verify key must validate the signature over the exact
// bytes of the request body.
func verifyEd25519(key ed25519.PublicKey, signed, sig []byte) bool {
	if len(key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(key, signed, sig)
}
