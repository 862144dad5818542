package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/types"
)

func TestAuthenticatedUserAndDeviceRoundTrip(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	ctx := context.Background()

	orgID := types.OrganizationID("acme")
	_, admin := bootstrapOrg(ctx, t, h, orgID, "s3cr3t")

	newUser := types.NewUserID()
	newUserDevice := newDevice(t, newUser, "laptop")
	rep := h.postAuthenticated(t, orgID, admin, map[string]any{
		"cmd":                "user_create",
		"user_id":            newUser[:],
		"human_handle_email": "bob@example.com",
		"human_handle_label": "Bob",
		"initial_profile":    "STANDARD",
		"device_id":          newUserDevice.id.String(),
		"device_label":       "Bob's laptop",
		"device_verify_key":  []byte(newUserDevice.public),
		"timestamp":          h.timestamp(time.Second),
	})
	require.Equal(t, "ok", rep["status"])

	u, err := h.store.GetUser(ctx, orgID, newUser)
	require.NoError(t, err)
	require.Equal(t, types.ProfileStandard, u.CurrentProfile())

	secondDevice := newDevice(t, newUser, "phone")
	rep = h.postAuthenticated(t, orgID, newUserDevice, map[string]any{
		"cmd":               "device_create",
		"device_id":         secondDevice.id.String(),
		"device_label":      "Bob's phone",
		"device_verify_key": []byte(secondDevice.public),
		"timestamp":         h.timestamp(2 * time.Second),
	})
	require.Equal(t, "ok", rep["status"])

	devices, err := h.store.ListDevicesForUser(ctx, orgID, newUser)
	require.NoError(t, err)
	require.Len(t, devices, 2)
}

func TestAuthenticatedRealmVlobBlockRoundTrip(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	ctx := context.Background()

	orgID := types.OrganizationID("acme")
	adminUser, admin := bootstrapOrg(ctx, t, h, orgID, "s3cr3t")

	realmID := types.NewRealmID()
	rep := h.postAuthenticated(t, orgID, admin, map[string]any{
		"cmd":              "realm_create",
		"realm_id":         realmID[:],
		"user_id":          adminUser[:],
		"role":             "OWNER",
		"key_index":        uint64(1),
		"timestamp":        h.timestamp(time.Second),
		"role_certificate": []byte("signed-realm-create"),
	})
	require.Equal(t, "ok", rep["status"])

	vlobID := types.NewVlobID()
	rep = h.postAuthenticated(t, orgID, admin, map[string]any{
		"cmd":       "vlob_create",
		"realm_id":  realmID[:],
		"vlob_id":   vlobID[:],
		"key_index": uint64(0),
		"timestamp": h.timestamp(2 * time.Second),
		"blob":      []byte("encrypted-metadata"),
	})
	require.Equal(t, "ok", rep["status"])

	rep = h.postAuthenticated(t, orgID, admin, map[string]any{
		"cmd":      "vlob_read_as_user",
		"realm_id": realmID[:],
		"vlobs":    [][]byte{vlobID[:]},
	})
	require.Equal(t, "ok", rep["status"])
	items, ok := rep["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)

	blockID := types.NewBlockID()
	rep = h.postAuthenticated(t, orgID, admin, map[string]any{
		"cmd":       "block_create",
		"realm_id":  realmID[:],
		"block_id":  blockID[:],
		"key_index": uint64(0),
		"timestamp": h.timestamp(3 * time.Second),
		"block":     []byte("encrypted-chunk"),
	})
	require.Equal(t, "ok", rep["status"])

	rep = h.postAuthenticated(t, orgID, admin, map[string]any{
		"cmd":      "block_read",
		"block_id": blockID[:],
	})
	require.Equal(t, "ok", rep["status"])
	require.Equal(t, []byte("encrypted-chunk"), rep["block"])
}

func TestAuthenticatedRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	ctx := context.Background()

	orgID := types.OrganizationID("acme")
	_, admin := bootstrapOrg(ctx, t, h, orgID, "s3cr3t")

	status := h.postRawStatus(t, "/authenticated/"+string(orgID), map[string]string{
		"Author":    admin.id.String(),
		"Signature": "not-base64-or-not-matching",
	}, mustMarshal(t, map[string]any{"cmd": "invite_new_device"}))
	require.Equal(t, 401, status)
}
