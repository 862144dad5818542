package certs

import (
	"crypto/ed25519"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/lib/types"
)

// Kind distinguishes the certificate payload shapes verify_and_load accepts.
type Kind string

const (
	KindUser              Kind = "user"
	KindDevice            Kind = "device"
	KindUserUpdate        Kind = "user_update"
	KindUserRevoke        Kind = "user_revoke"
	KindRealmRole         Kind = "realm_role"
	KindKeyRotation       Kind = "key_rotation"
	KindSequesterService  Kind = "sequester_service"
	KindShamirBrief       Kind = "shamir_brief"
	KindShamirShare       Kind = "shamir_share"
)

// Payload is the decoded, not-yet-verified body of a signed certificate: an
// embedded author and timestamp plus the opaque signed bytes. Client-side
// crypto (building the payload) is out of scope (spec §1); the server only
// verifies.
type Payload struct {
	Kind      Kind
	Author    types.DeviceID
	Timestamp types.Timestamp
	Signed    []byte // the bytes that were signed, sans signature
	Signature []byte
}

// Decoder splits a wire certificate into its signed content and signature.
// The exact certificate encoding is a msgpack map; callers that need typed
// fields beyond Author/Timestamp decode Signed themselves after
// verification succeeds, via lib/wire.
type Decoder func(raw []byte) (*Payload, error)

// VerifyAndLoad verifies a certificate's signature against expectedVerifyKey
// and that its embedded author matches expectedAuthor, per spec §4.3. It
// returns INVALID_CERTIFICATE on any mismatch.
func VerifyAndLoad(raw []byte, decode Decoder, expectedAuthor types.DeviceID, expectedVerifyKey ed25519.PublicKey) (*Payload, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, types.Simple(types.ErrInvalidCertificate)
	}
	if !expectedAuthor.UserID.IsZero() && payload.Author != expectedAuthor {
		return nil, types.Simple(types.ErrInvalidCertificate)
	}
	if len(expectedVerifyKey) != ed25519.PublicKeySize {
		return nil, trace.BadParameter("invalid verify key length %d", len(expectedVerifyKey))
	}
	if !ed25519.Verify(expectedVerifyKey, payload.Signed, payload.Signature) {
		return nil, types.Simple(types.ErrInvalidCertificate)
	}
	return payload, nil
}
