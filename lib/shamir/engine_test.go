package shamir_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/backend/memstore"
	"github.com/parsec-io/parsec-server/lib/shamir"
	"github.com/parsec-io/parsec-server/lib/types"
)

const testOrg = types.OrganizationID("OrgA")

func newEngine(t *testing.T) (*shamir.Engine, *memstore.Store, clockwork.FakeClock) {
	t.Helper()
	store := memstore.New()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID:                            testOrg,
		IsBootstrapped:                true,
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))
	return shamir.New(store, clock), store, clock
}

func newUser(t *testing.T, store *memstore.Store) types.UserID {
	t.Helper()
	id := types.NewUserID()
	require.NoError(t, store.CreateUser(context.Background(), testOrg, &types.User{
		ID:        id,
		CreatedOn: types.TimestampFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}))
	return id
}

func TestShamirSetupRejectsAuthorAsRecipient(t *testing.T) {
	e, store, clock := newEngine(t)
	alice := newUser(t, store)
	bob := newUser(t, store)

	err := e.Setup(context.Background(), testOrg, shamir.SetupRequest{
		UserID: alice,
		Author: types.DeviceID{UserID: alice, Name: "dev1"},
		Timestamp: types.TimestampFromTime(clock.Now()),
		BriefCertificate: []byte("brief"),
		ShareCertificates: map[types.UserID][]byte{
			alice: []byte("share-for-self"),
			bob:   []byte("share-for-bob"),
		},
		Threshold: 1,
		Shares: []types.ShamirRecoveryShare{
			{Recipient: alice, ShareCount: 1},
			{Recipient: bob, ShareCount: 1},
		},
	})
	require.Error(t, err)
}

func TestShamirSetupRejectsThresholdAboveTotalShares(t *testing.T) {
	e, store, clock := newEngine(t)
	alice := newUser(t, store)
	bob := newUser(t, store)
	carol := newUser(t, store)

	err := e.Setup(context.Background(), testOrg, shamir.SetupRequest{
		UserID: alice,
		Author: types.DeviceID{UserID: alice, Name: "dev1"},
		Timestamp: types.TimestampFromTime(clock.Now()),
		BriefCertificate: []byte("brief"),
		ShareCertificates: map[types.UserID][]byte{
			bob:   []byte("share-bob"),
			carol: []byte("share-carol"),
		},
		Threshold: 3,
		Shares: []types.ShamirRecoveryShare{
			{Recipient: bob, ShareCount: 1},
			{Recipient: carol, ShareCount: 1},
		},
	})
	require.Error(t, err)
}

func TestShamirSetupRejectsRevokedRecipient(t *testing.T) {
	e, store, clock := newEngine(t)
	alice := newUser(t, store)
	bob := newUser(t, store)

	revokedOn := types.TimestampFromTime(clock.Now())
	bobUser, err := store.GetUser(context.Background(), testOrg, bob)
	require.NoError(t, err)
	bobUser.RevokedOn = &revokedOn
	require.NoError(t, store.UpdateUser(context.Background(), testOrg, bobUser))

	err = e.Setup(context.Background(), testOrg, shamir.SetupRequest{
		UserID: alice,
		Author: types.DeviceID{UserID: alice, Name: "dev1"},
		Timestamp: types.TimestampFromTime(clock.Now().Add(time.Second)),
		BriefCertificate: []byte("brief"),
		ShareCertificates: map[types.UserID][]byte{
			bob: []byte("share-bob"),
		},
		Threshold: 1,
		Shares: []types.ShamirRecoveryShare{
			{Recipient: bob, ShareCount: 1},
		},
	})
	require.Error(t, err)
}

func TestShamirSetupRejectsDuplicateExistingSetup(t *testing.T) {
	e, store, clock := newEngine(t)
	alice := newUser(t, store)
	bob := newUser(t, store)

	req := shamir.SetupRequest{
		UserID: alice,
		Author: types.DeviceID{UserID: alice, Name: "dev1"},
		Timestamp: types.TimestampFromTime(clock.Now()),
		BriefCertificate: []byte("brief"),
		ShareCertificates: map[types.UserID][]byte{
			bob: []byte("share-bob"),
		},
		Threshold: 1,
		Shares: []types.ShamirRecoveryShare{
			{Recipient: bob, ShareCount: 1},
		},
	}
	require.NoError(t, e.Setup(context.Background(), testOrg, req))

	req.Timestamp = types.TimestampFromTime(clock.Now().Add(time.Second))
	err := e.Setup(context.Background(), testOrg, req)
	require.Error(t, err)
}

func TestShamirListAsUserReturnsOwnAndRecipientOfSetups(t *testing.T) {
	e, store, clock := newEngine(t)
	alice := newUser(t, store)
	bob := newUser(t, store)
	carol := newUser(t, store)

	require.NoError(t, e.Setup(context.Background(), testOrg, shamir.SetupRequest{
		UserID: alice,
		Author: types.DeviceID{UserID: alice, Name: "dev1"},
		Timestamp: types.TimestampFromTime(clock.Now()),
		BriefCertificate: []byte("alice-brief"),
		ShareCertificates: map[types.UserID][]byte{
			bob: []byte("share-bob"),
		},
		Threshold: 1,
		Shares: []types.ShamirRecoveryShare{
			{Recipient: bob, ShareCount: 1},
		},
	}))
	require.NoError(t, e.Setup(context.Background(), testOrg, shamir.SetupRequest{
		UserID: carol,
		Author: types.DeviceID{UserID: carol, Name: "dev1"},
		Timestamp: types.TimestampFromTime(clock.Now().Add(time.Second)),
		BriefCertificate: []byte("carol-brief"),
		ShareCertificates: map[types.UserID][]byte{
			bob: []byte("share-bob"),
		},
		Threshold: 1,
		Shares: []types.ShamirRecoveryShare{
			{Recipient: bob, ShareCount: 1},
		},
	}))

	own, recipientOf, err := e.ListAsUser(context.Background(), testOrg, bob)
	require.NoError(t, err)
	require.Nil(t, own)
	require.Len(t, recipientOf, 2)
}
