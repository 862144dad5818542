package block_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/backend/memstore"
	"github.com/parsec-io/parsec-server/lib/block"
	"github.com/parsec-io/parsec-server/lib/blockstore"
	"github.com/parsec-io/parsec-server/lib/types"
)

const testOrg = types.OrganizationID("OrgA")

func setup(t *testing.T) (*block.Engine, *memstore.Store, types.UserID, types.RealmID) {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID:                            testOrg,
		IsBootstrapped:                true,
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))
	alice := types.NewUserID()
	realmID := types.NewRealmID()
	require.NoError(t, store.CreateRealm(context.Background(), testOrg, &types.Realm{
		ID:        realmID,
		CreatedOn: types.TimestampFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Roles: []types.RealmUserRole{{
			UserID: alice, Role: types.RealmRoleOwner,
			Author:    types.DeviceID{UserID: alice, Name: "dev1"},
			Timestamp: types.TimestampFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		}},
	}))
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	e := block.New(store, blockstore.NewMemStore(), clock)
	return e, store, alice, realmID
}

func TestBlockCreateAndRead(t *testing.T) {
	e, _, alice, realmID := setup(t)
	blockID := types.NewBlockID()

	require.NoError(t, e.Create(context.Background(), testOrg, block.CreateRequest{
		Block: blockID, Realm: realmID, Author: types.DeviceID{UserID: alice, Name: "dev1"},
		KeyIndex: 0, Timestamp: types.TimestampFromTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)),
		Data: []byte("payload"),
	}))

	data, err := e.Read(context.Background(), testOrg, alice, blockID)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestBlockReadRejectsNonMember(t *testing.T) {
	e, _, alice, realmID := setup(t)
	blockID := types.NewBlockID()

	require.NoError(t, e.Create(context.Background(), testOrg, block.CreateRequest{
		Block: blockID, Realm: realmID, Author: types.DeviceID{UserID: alice, Name: "dev1"},
		KeyIndex: 0, Timestamp: types.TimestampFromTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)),
		Data: []byte("payload"),
	}))

	stranger := types.NewUserID()
	_, err := e.Read(context.Background(), testOrg, stranger, blockID)
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrAuthorNotAllowed))
}

// Open Question #1 resolution: block writes do not ratchet
// last_realm_certificate_timestamp, even though they must still be no older
// than its current value.
func TestBlockCreateDoesNotAdvanceRealmCausalClock(t *testing.T) {
	e, store, alice, realmID := setup(t)

	// Simulate a prior realm certificate having already set the ceiling.
	ceiling := types.TimestampFromTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	o, err := store.GetOrganization(context.Background(), testOrg)
	require.NoError(t, err)
	o.LastRealmCertificateTimestamp[realmID] = ceiling
	require.NoError(t, store.UpdateOrganization(context.Background(), o))

	require.NoError(t, e.Create(context.Background(), testOrg, block.CreateRequest{
		Block: types.NewBlockID(), Realm: realmID, Author: types.DeviceID{UserID: alice, Name: "dev1"},
		KeyIndex: 0, Timestamp: types.TimestampFromTime(time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)),
		Data: []byte("payload"),
	}))

	o, err = store.GetOrganization(context.Background(), testOrg)
	require.NoError(t, err)
	require.Equal(t, ceiling, o.LastRealmCertificateTimestamp[realmID], "block create must not ratchet the realm's causal clock ceiling")
}
