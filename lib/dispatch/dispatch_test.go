package dispatch_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/backend/memstore"
	"github.com/parsec-io/parsec-server/lib/block"
	"github.com/parsec-io/parsec-server/lib/blockstore"
	"github.com/parsec-io/parsec-server/lib/dispatch"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/invite"
	"github.com/parsec-io/parsec-server/lib/org"
	"github.com/parsec-io/parsec-server/lib/realm"
	"github.com/parsec-io/parsec-server/lib/sequester"
	"github.com/parsec-io/parsec-server/lib/shamir"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/vlob"
)

// harness wires every engine to a fresh memstore and exposes the resulting
// dispatch.Server through httptest, mirroring how cmd/parsec-server wires
// the real process.
type harness struct {
	t      *testing.T
	server *httptest.Server
	store  backend.Store
	clock  clockwork.FakeClock
	bus    *events.Bus
	org    *org.Engine
	realm  *realm.Engine
	invite *invite.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	clock := clockwork.NewFakeClock()
	bus := events.New()
	seq := sequester.New(store, clock)

	deps := dispatch.Deps{
		Store:     store,
		Clock:     clock,
		Bus:       bus,
		Org:       org.New(store, clock, bus),
		Realm:     realm.New(store, clock, bus),
		Vlob:      vlob.New(store, clock, bus, seq),
		Block:     block.New(store, blockstore.NewMemStore(), clock),
		Invite:    invite.New(store, clock, bus),
		Sequester: seq,
		Shamir:    shamir.New(store, clock),
	}
	srv := dispatch.NewServer(deps)
	return &harness{
		t:      t,
		server: httptest.NewServer(srv),
		store:  store,
		clock:  clock,
		bus:    bus,
		org:    deps.Org,
		realm:  deps.Realm,
		invite: deps.Invite,
	}
}

func (h *harness) close() { h.server.Close() }

// timestamp returns the harness clock's time shifted by offset, as the
// float seconds the wire codec carries, so certificates pass the ballpark
// check and can be ordered for the causal clock.
func (h *harness) timestamp(offset time.Duration) float64 {
	return types.TimestampFromTime(h.clock.Now().Add(offset)).AsFloatSeconds()
}

// device bundles a freshly-minted keypair with the device id it will be
// bound to, so callers can sign subsequent requests.
type device struct {
	id      types.DeviceID
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func newDevice(t *testing.T, user types.UserID, name types.DeviceName) device {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return device{id: types.DeviceID{UserID: user, Name: name}, public: pub, private: priv}
}

func (h *harness) postAnonymous(t *testing.T, org types.OrganizationID, body any) map[string]any {
	return h.post(t, "/anonymous/"+string(org), nil, body)
}

func (h *harness) postInvited(t *testing.T, org types.OrganizationID, token types.InvitationToken, body any) map[string]any {
	headers := map[string]string{"Invitation-Token": token.String()}
	return h.post(t, "/invited/"+string(org), headers, body)
}

func (h *harness) postAuthenticated(t *testing.T, org types.OrganizationID, d device, body any) map[string]any {
	raw, err := msgpack.Marshal(body)
	require.NoError(t, err)
	sig := ed25519.Sign(d.private, raw)
	headers := map[string]string{
		"Author":    d.id.String(),
		"Signature": base64.StdEncoding.EncodeToString(sig),
	}
	return h.postRaw(t, "/authenticated/"+string(org), headers, raw)
}

func (h *harness) post(t *testing.T, path string, headers map[string]string, body any) map[string]any {
	t.Helper()
	raw, err := msgpack.Marshal(body)
	require.NoError(t, err)
	return h.postRaw(t, path, headers, raw)
}

func (h *harness) postRaw(t *testing.T, path string, headers map[string]string, raw []byte) map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/msgpack")
	req.Header.Set("Accept", "application/msgpack")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rep map[string]any
	require.NoError(t, msgpack.NewDecoder(resp.Body).Decode(&rep))
	return rep
}

func (h *harness) postRawStatus(t *testing.T, path string, headers map[string]string, raw []byte) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/msgpack")
	req.Header.Set("Accept", "application/msgpack")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func bootstrapOrg(ctx context.Context, t *testing.T, h *harness, orgID types.OrganizationID, token string) (types.UserID, device) {
	t.Helper()
	require.NoError(t, h.org.Create(ctx, orgID, token, nil, false))
	user := types.NewUserID()
	d := newDevice(t, user, "laptop")
	rep := h.postAnonymous(t, orgID, bootstrapReq(token, user, d, h.timestamp(0)))
	require.Equal(t, "ok", rep["status"])
	return user, d
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return raw
}

func bootstrapReq(token string, user types.UserID, d device, ts float64) map[string]any {
	return map[string]any{
		"cmd":                "organization_bootstrap",
		"bootstrap_token":    token,
		"root_verify_key":    []byte("root-key"),
		"user_id":            user[:],
		"human_handle_email": "alice@example.com",
		"human_handle_label": "Alice",
		"device_id":          d.id.String(),
		"device_label":       "Alice's laptop",
		"device_verify_key":  []byte(d.public),
		"timestamp":          ts,
	}
}
