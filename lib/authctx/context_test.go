package authctx_test

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/authctx"
	"github.com/parsec-io/parsec-server/lib/backend/memstore"
	"github.com/parsec-io/parsec-server/lib/types"
)

const testOrg = types.OrganizationID("OrgA")

func alwaysVerify(valid bool) func(ed25519.PublicKey, []byte, []byte) bool {
	return func(ed25519.PublicKey, []byte, []byte) bool { return valid }
}

func TestResolveOrganizationAbortsOnMissingOrExpired(t *testing.T) {
	store := memstore.New()

	_, err := authctx.ResolveOrganization(context.Background(), store, testOrg)
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrOrganizationNotFound))

	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID: testOrg, IsBootstrapped: true, IsExpired: true,
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))
	_, err = authctx.ResolveOrganization(context.Background(), store, testOrg)
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrOrganizationExpired))
}

func TestResolveInvitedAbortsOnTerminalInvitation(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID: testOrg, IsBootstrapped: true,
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))
	token := types.NewInvitationToken()
	require.NoError(t, store.CreateInvitation(context.Background(), testOrg, &types.Invitation{
		Token: token, Type: types.InvitationTypeUser,
		ClaimerEmail: "claimer@example.com",
		CreatedOn:    types.TimestampFromTime(time.Now()),
		Status:       types.InvitationStatusCancelled,
	}))

	_, err := authctx.ResolveInvited(context.Background(), store, testOrg, token)
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrInvitationInvalid))
}

func TestResolveInvitedAcceptsPendingInvitation(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID: testOrg, IsBootstrapped: true,
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))
	token := types.NewInvitationToken()
	require.NoError(t, store.CreateInvitation(context.Background(), testOrg, &types.Invitation{
		Token: token, Type: types.InvitationTypeDevice,
		CreatedOn: types.TimestampFromTime(time.Now()),
		Status:    types.InvitationStatusPending,
	}))

	inv, err := authctx.ResolveInvited(context.Background(), store, testOrg, token)
	require.NoError(t, err)
	require.Equal(t, types.InvitationTypeDevice, inv.Type)
}

func setupAuthUser(t *testing.T, store *memstore.Store) (types.DeviceID, []byte, []byte) {
	t.Helper()
	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID: testOrg, IsBootstrapped: true,
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))
	alice := types.NewUserID()
	dev := types.DeviceID{UserID: alice, Name: "dev1"}
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), testOrg, &types.User{
		ID: alice, CreatedOn: types.TimestampFromTime(time.Now()),
	}))
	require.NoError(t, store.CreateDevice(context.Background(), testOrg, &types.Device{
		ID: dev, VerifyKey: pub, CreatedOn: types.TimestampFromTime(time.Now()),
	}))
	signed := []byte("request-bytes")
	sig := ed25519.Sign(priv, signed)
	return dev, signed, sig
}

func TestResolveAuthenticatedHappyPath(t *testing.T) {
	store := memstore.New()
	dev, signed, sig := setupAuthUser(t, store)

	auth, err := authctx.ResolveAuthenticated(context.Background(), store, testOrg, dev, signed, sig, ed25519.Verify)
	require.NoError(t, err)
	require.Equal(t, dev, auth.DeviceID)
	require.Equal(t, dev.UserID, auth.UserID)
}

func TestResolveAuthenticatedRejectsBadSignature(t *testing.T) {
	store := memstore.New()
	dev, signed, sig := setupAuthUser(t, store)
	_ = sig

	_, err := authctx.ResolveAuthenticated(context.Background(), store, testOrg, dev, signed, []byte("garbage"), ed25519.Verify)
	require.Error(t, err)
}

func TestResolveAuthenticatedAbortsOnRevokedUser(t *testing.T) {
	store := memstore.New()
	dev, signed, sig := setupAuthUser(t, store)

	user, err := store.GetUser(context.Background(), testOrg, dev.UserID)
	require.NoError(t, err)
	revokedOn := types.TimestampFromTime(time.Now())
	user.RevokedOn = &revokedOn
	require.NoError(t, store.UpdateUser(context.Background(), testOrg, user))

	_, err = authctx.ResolveAuthenticated(context.Background(), store, testOrg, dev, signed, sig, alwaysVerify(true))
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrAuthorRevoked))
}

func TestResolveAuthenticatedAbortsOnFrozenUser(t *testing.T) {
	store := memstore.New()
	dev, signed, sig := setupAuthUser(t, store)

	user, err := store.GetUser(context.Background(), testOrg, dev.UserID)
	require.NoError(t, err)
	user.Frozen = true
	require.NoError(t, store.UpdateUser(context.Background(), testOrg, user))

	_, err = authctx.ResolveAuthenticated(context.Background(), store, testOrg, dev, signed, sig, alwaysVerify(true))
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrUserFrozen))
}

func TestResolveAuthenticatedAbortsOnMissingDevice(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID: testOrg, IsBootstrapped: true,
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))

	_, err := authctx.ResolveAuthenticated(context.Background(), store, testOrg,
		types.DeviceID{UserID: types.NewUserID(), Name: "dev1"}, []byte("x"), []byte("y"), alwaysVerify(true))
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrAuthorNotFound))
}
