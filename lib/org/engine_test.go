package org_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/backend/memstore"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/org"
	"github.com/parsec-io/parsec-server/lib/types"
)

func newEngine(t *testing.T) (*org.Engine, *memstore.Store, clockwork.FakeClock, types.OrganizationID) {
	t.Helper()
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	bus := events.New()
	e := org.New(store, clock, bus)

	orgID := types.OrganizationID("acme")
	require.NoError(t, e.Create(context.Background(), orgID, "s3cr3t", nil, false))
	return e, store, clock, orgID
}

func TestBootstrapCreatesFirstAdmin(t *testing.T) {
	e, store, clock, orgID := newEngine(t)

	user := types.NewUserID()
	device := types.DeviceID{UserID: user, Name: "laptop"}
	err := e.Bootstrap(context.Background(), orgID, org.BootstrapRequest{
		BootstrapToken:  "s3cr3t",
		RootVerifyKey:   []byte("root-key"),
		User:            user,
		HumanHandle:     types.HumanHandle{Email: "alice@example.com", Label: "Alice"},
		Device:          device,
		DeviceVerifyKey: []byte("device-key"),
		Timestamp:       types.TimestampFromTime(clock.Now()),
	})
	require.NoError(t, err)

	o, err := store.GetOrganization(context.Background(), orgID)
	require.NoError(t, err)
	require.True(t, o.IsBootstrapped)
	require.Equal(t, []byte("root-key"), o.RootVerifyKey)

	u, err := store.GetUser(context.Background(), orgID, user)
	require.NoError(t, err)
	require.Equal(t, types.ProfileAdmin, u.CurrentProfile())
}

func TestBootstrapRejectsWrongToken(t *testing.T) {
	e, _, clock, orgID := newEngine(t)

	user := types.NewUserID()
	err := e.Bootstrap(context.Background(), orgID, org.BootstrapRequest{
		BootstrapToken: "wrong",
		User:           user,
		Device:         types.DeviceID{UserID: user, Name: "laptop"},
		Timestamp:      types.TimestampFromTime(clock.Now()),
	})
	require.True(t, types.Is(err, types.ErrOrganizationInvalidBootstrapToken))
}

func TestBootstrapRejectsSecondAttempt(t *testing.T) {
	e, _, clock, orgID := newEngine(t)

	user := types.NewUserID()
	req := org.BootstrapRequest{
		BootstrapToken: "s3cr3t",
		User:           user,
		Device:         types.DeviceID{UserID: user, Name: "laptop"},
		Timestamp:      types.TimestampFromTime(clock.Now()),
	}
	require.NoError(t, e.Bootstrap(context.Background(), orgID, req))

	clock.Advance(time.Second)
	req.User = types.NewUserID()
	req.Timestamp = types.TimestampFromTime(clock.Now())
	err := e.Bootstrap(context.Background(), orgID, req)
	require.True(t, types.Is(err, types.ErrOrganizationAlreadyBootstrapped))
}

func bootstrapAdmin(t *testing.T, e *org.Engine, clock clockwork.FakeClock, orgID types.OrganizationID) (types.UserID, types.DeviceID) {
	t.Helper()
	user := types.NewUserID()
	device := types.DeviceID{UserID: user, Name: "laptop"}
	require.NoError(t, e.Bootstrap(context.Background(), orgID, org.BootstrapRequest{
		BootstrapToken:  "s3cr3t",
		RootVerifyKey:   []byte("root-key"),
		User:            user,
		HumanHandle:     types.HumanHandle{Email: "admin@example.com", Label: "Admin"},
		Device:          device,
		DeviceVerifyKey: []byte("device-key"),
		Timestamp:       types.TimestampFromTime(clock.Now()),
	}))
	return user, device
}

func TestCreateUserRejectsNonAdminAuthor(t *testing.T) {
	e, _, clock, orgID := newEngine(t)
	_, admin := bootstrapAdmin(t, e, clock, orgID)
	clock.Advance(time.Second)

	newUser := types.NewUserID()
	err := e.CreateUser(context.Background(), orgID, org.UserCreateRequest{
		Author:         admin,
		AuthorProfile:  types.ProfileStandard,
		User:           newUser,
		HumanHandle:    types.HumanHandle{Email: "bob@example.com"},
		InitialProfile: types.ProfileStandard,
		Device:         types.DeviceID{UserID: newUser, Name: "laptop"},
		Timestamp:      types.TimestampFromTime(clock.Now()),
	})
	require.True(t, types.Is(err, types.ErrAuthorNotAllowed))
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	e, _, clock, orgID := newEngine(t)
	_, admin := bootstrapAdmin(t, e, clock, orgID)

	clock.Advance(time.Second)
	newUser := types.NewUserID()
	require.NoError(t, e.CreateUser(context.Background(), orgID, org.UserCreateRequest{
		Author:         admin,
		AuthorProfile:  types.ProfileAdmin,
		User:           newUser,
		HumanHandle:    types.HumanHandle{Email: "bob@example.com"},
		InitialProfile: types.ProfileStandard,
		Device:         types.DeviceID{UserID: newUser, Name: "laptop"},
		Timestamp:      types.TimestampFromTime(clock.Now()),
	}))

	clock.Advance(time.Second)
	anotherUser := types.NewUserID()
	err := e.CreateUser(context.Background(), orgID, org.UserCreateRequest{
		Author:         admin,
		AuthorProfile:  types.ProfileAdmin,
		User:           anotherUser,
		HumanHandle:    types.HumanHandle{Email: "bob@example.com"},
		InitialProfile: types.ProfileStandard,
		Device:         types.DeviceID{UserID: anotherUser, Name: "laptop"},
		Timestamp:      types.TimestampFromTime(clock.Now()),
	})
	require.True(t, types.Is(err, types.ErrHumanHandleAlreadyTaken))
}

func TestCreateUserEnforcesActiveUsersLimit(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	bus := events.New()
	e := org.New(store, clock, bus)
	orgID := types.OrganizationID("acme")
	limit := 1
	require.NoError(t, e.Create(context.Background(), orgID, "s3cr3t", &limit, false))
	_, admin := bootstrapAdmin(t, e, clock, orgID)

	clock.Advance(time.Second)
	newUser := types.NewUserID()
	err := e.CreateUser(context.Background(), orgID, org.UserCreateRequest{
		Author:         admin,
		AuthorProfile:  types.ProfileAdmin,
		User:           newUser,
		HumanHandle:    types.HumanHandle{Email: "bob@example.com"},
		InitialProfile: types.ProfileStandard,
		Device:         types.DeviceID{UserID: newUser, Name: "laptop"},
		Timestamp:      types.TimestampFromTime(clock.Now()),
	})
	require.True(t, types.Is(err, types.ErrActiveUsersLimitReached))
}

func TestRevokeRejectsSelfRevoke(t *testing.T) {
	e, _, clock, orgID := newEngine(t)
	user, admin := bootstrapAdmin(t, e, clock, orgID)
	clock.Advance(time.Second)

	err := e.Revoke(context.Background(), orgID, admin, types.ProfileAdmin, user, types.TimestampFromTime(clock.Now()))
	require.True(t, types.Is(err, types.ErrCannotSelfRevoke))
}

func TestRevokeThenFreezeRoundtrip(t *testing.T) {
	e, store, clock, orgID := newEngine(t)
	_, admin := bootstrapAdmin(t, e, clock, orgID)

	clock.Advance(time.Second)
	target := types.NewUserID()
	require.NoError(t, e.CreateUser(context.Background(), orgID, org.UserCreateRequest{
		Author:         admin,
		AuthorProfile:  types.ProfileAdmin,
		User:           target,
		HumanHandle:    types.HumanHandle{Email: "carol@example.com"},
		InitialProfile: types.ProfileStandard,
		Device:         types.DeviceID{UserID: target, Name: "laptop"},
		Timestamp:      types.TimestampFromTime(clock.Now()),
	}))

	require.NoError(t, e.Freeze(context.Background(), orgID, types.ProfileAdmin, target, true))
	u, err := store.GetUser(context.Background(), orgID, target)
	require.NoError(t, err)
	require.True(t, u.Frozen)

	clock.Advance(time.Second)
	require.NoError(t, e.Revoke(context.Background(), orgID, admin, types.ProfileAdmin, target, types.TimestampFromTime(clock.Now())))
	u, err = store.GetUser(context.Background(), orgID, target)
	require.NoError(t, err)
	require.True(t, u.IsRevoked())

	clock.Advance(time.Second)
	err = e.Revoke(context.Background(), orgID, admin, types.ProfileAdmin, target, types.TimestampFromTime(clock.Now()))
	require.True(t, types.Is(err, types.ErrUserRevoked))
}
