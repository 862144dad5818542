// Package authctx builds the three client context kinds (spec §4.2):
// anonymous, invited and authenticated, and exposes the abort helpers
// handlers use to short-circuit on a protocol-level failure.
package authctx

import (
	"context"
	"crypto/ed25519"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/types"
)

// Anonymous is the context for calls on /anonymous/<org>.
type Anonymous struct {
	OrganizationID types.OrganizationID
}

// Invited is the context for calls on /invited/<org>.
type Invited struct {
	OrganizationID types.OrganizationID
	Token          types.InvitationToken
	Type           types.InvitationType
}

// Authenticated is the context for calls on /authenticated/<org>.
type Authenticated struct {
	OrganizationID  types.OrganizationID
	UserID          types.UserID
	DeviceID        types.DeviceID
	DeviceVerifyKey ed25519.PublicKey
	Profile         types.Profile
}

// OrganizationNotFoundAbort, et al. produce the protocol-level aborts of
// spec §4.2: "the context exposes helper aborts that terminate handler
// execution with the matching protocol status."
func OrganizationNotFoundAbort() error { return types.Simple(types.ErrOrganizationNotFound) }
func OrganizationExpiredAbort() error  { return types.Simple(types.ErrOrganizationExpired) }
func AuthorNotFoundAbort() error       { return types.Simple(types.ErrAuthorNotFound) }
func AuthorRevokedAbort() error        { return types.Simple(types.ErrAuthorRevoked) }
func UserFrozenAbort() error           { return types.Simple(types.ErrUserFrozen) }
func InvitationInvalidAbort() error    { return types.Simple(types.ErrInvitationInvalid) }

// ResolveOrganization loads an organization and aborts if it is absent or
// expired. Used by all three context kinds.
func ResolveOrganization(ctx context.Context, store backend.Store, id types.OrganizationID) (*types.Organization, error) {
	org, err := store.GetOrganization(ctx, id)
	if trace.IsNotFound(err) {
		return nil, OrganizationNotFoundAbort()
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if org.IsExpired {
		return nil, OrganizationExpiredAbort()
	}
	return org, nil
}

// ResolveAnonymous builds an Anonymous context for /anonymous/<org>. Unlike
// the other two kinds, an anonymous caller may hit a not-yet-bootstrapped
// (and so not-yet-existing, in some deployments) organization, so callers
// that need the org record fetch it themselves via ResolveOrganization.
func ResolveAnonymous(org types.OrganizationID) *Anonymous {
	return &Anonymous{OrganizationID: org}
}

// ResolveInvited builds an Invited context: the organization must exist and
// not be expired, and the token must name a non-terminal invitation.
func ResolveInvited(ctx context.Context, store backend.Store, org types.OrganizationID, token types.InvitationToken) (*Invited, error) {
	if _, err := ResolveOrganization(ctx, store, org); err != nil {
		return nil, trace.Wrap(err)
	}
	inv, err := store.GetInvitation(ctx, org, token)
	if trace.IsNotFound(err) {
		return nil, InvitationInvalidAbort()
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if inv.Status.IsTerminal() {
		return nil, InvitationInvalidAbort()
	}
	return &Invited{OrganizationID: org, Token: token, Type: inv.Type}, nil
}

// ResolveAuthenticated builds an Authenticated context: the organization
// must exist and not be expired, the device must exist, its owning user
// must be neither revoked nor frozen, and the supplied signature must
// verify against the device's stored verify key over signedBytes. On any
// failure it returns the matching protocol-level abort (spec §4.2).
func ResolveAuthenticated(ctx context.Context, store backend.Store, org types.OrganizationID, device types.DeviceID, signedBytes, signature []byte, verify func(key ed25519.PublicKey, signed, sig []byte) bool) (*Authenticated, error) {
	o, err := ResolveOrganization(ctx, store, org)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	dev, err := store.GetDevice(ctx, org, device)
	if trace.IsNotFound(err) {
		return nil, AuthorNotFoundAbort()
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}

	user, err := store.GetUser(ctx, org, device.UserID)
	if trace.IsNotFound(err) {
		return nil, AuthorNotFoundAbort()
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if user.IsRevoked() {
		return nil, AuthorRevokedAbort()
	}
	if user.Frozen {
		return nil, UserFrozenAbort()
	}
	if o.IsExpired {
		return nil, OrganizationExpiredAbort()
	}

	verifyKey := ed25519.PublicKey(dev.VerifyKey)
	if !verify(verifyKey, signedBytes, signature) {
		return nil, trace.AccessDenied("invalid authentication")
	}

	return &Authenticated{
		OrganizationID:  org,
		UserID:          device.UserID,
		DeviceID:        device,
		DeviceVerifyKey: verifyKey,
		Profile:         user.CurrentProfile(),
	}, nil
}
