package sqlstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/backend/sqlstore"
	"github.com/parsec-io/parsec-server/lib/types"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOrganizationRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	org := &types.Organization{ID: "acme", BootstrapToken: "s3cr3t"}
	require.NoError(t, s.CreateOrganization(ctx, org))

	err := s.CreateOrganization(ctx, org)
	require.Error(t, err)

	got, err := s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, org.BootstrapToken, got.BootstrapToken)

	got.IsBootstrapped = true
	require.NoError(t, s.UpdateOrganization(ctx, got))

	got2, err := s.GetOrganization(ctx, "acme")
	require.NoError(t, err)
	require.True(t, got2.IsBootstrapped)

	_, err = s.GetOrganization(ctx, "nope")
	require.Error(t, err)
}

func TestUserEmailUniqueness(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrganization(ctx, &types.Organization{ID: "acme"}))

	u1 := &types.User{ID: types.NewUserID(), HumanHandle: types.HumanHandle{Email: "alice@example.com"}}
	require.NoError(t, s.CreateUser(ctx, "acme", u1))

	u2 := &types.User{ID: types.NewUserID(), HumanHandle: types.HumanHandle{Email: "alice@example.com"}}
	err := s.CreateUser(ctx, "acme", u2)
	require.Error(t, err)

	found, err := s.GetUserByEmail(ctx, "acme", "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, u1.ID, found.ID)
}

func TestVlobVersionsAndPollChanges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrganization(ctx, &types.Organization{ID: "acme"}))

	realm := &types.Realm{ID: types.NewRealmID()}
	require.NoError(t, s.CreateRealm(ctx, "acme", realm))

	vlobID := types.NewVlobID()
	v := &types.Vlob{ID: vlobID, RealmID: realm.ID, Versions: []types.VlobVersion{{Version: 1, Blob: []byte("hello")}}}
	require.NoError(t, s.CreateVlob(ctx, "acme", v))

	checkpoint, changed, err := s.PollChanges(ctx, "acme", realm.ID, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), checkpoint)
	require.Equal(t, uint64(1), changed[vlobID])

	require.NoError(t, s.AppendVlobVersion(ctx, "acme", vlobID, types.VlobVersion{Version: 2, Blob: []byte("world")}))

	got, err := s.GetVlob(ctx, "acme", vlobID)
	require.NoError(t, err)
	require.Len(t, got.Versions, 2)
	require.Equal(t, uint64(2), got.Latest().Version)

	checkpoint2, changed2, err := s.PollChanges(ctx, "acme", realm.ID, checkpoint)
	require.NoError(t, err)
	require.Equal(t, uint64(2), checkpoint2)
	require.Equal(t, uint64(2), changed2[vlobID])
}

func TestInvitationLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrganization(ctx, &types.Organization{ID: "acme"}))

	inv := &types.Invitation{
		Token:        types.NewInvitationToken(),
		Type:         types.InvitationTypeUser,
		ClaimerEmail: "bob@example.com",
		Status:       types.InvitationStatusPending,
	}
	require.NoError(t, s.CreateInvitation(ctx, "acme", inv))

	found, err := s.FindPendingUserInvitation(ctx, "acme", "bob@example.com")
	require.NoError(t, err)
	require.Equal(t, inv.Token, found.Token)

	require.NoError(t, s.UpdateInvitationStatus(ctx, "acme", inv.Token, types.InvitationStatusFinished))

	_, err = s.FindPendingUserInvitation(ctx, "acme", "bob@example.com")
	require.Error(t, err)
}

func TestLockSerializesPerTopic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "acme", "common")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		u2, err := s.Lock(ctx, "acme", "common")
		require.NoError(t, err)
		u2()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second lock acquired before first released")
	default:
	}
	unlock()
	<-done
}
