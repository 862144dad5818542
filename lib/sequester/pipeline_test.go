package sequester_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/backend/memstore"
	"github.com/parsec-io/parsec-server/lib/sequester"
	"github.com/parsec-io/parsec-server/lib/types"
)

const testOrg = types.OrganizationID("OrgA")

func newSequesteredOrg(t *testing.T) (*memstore.Store, clockwork.FakeClock) {
	t.Helper()
	store := memstore.New()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID:             testOrg,
		IsBootstrapped: true,
		SequesterAuthority: &types.SequesterAuthority{
			VerifyKeyDER: []byte("authority-key"),
			Timestamp:    types.TimestampFromTime(clock.Now().Add(-time.Hour)),
		},
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))
	return store, clock
}

func TestCreateServiceRejectsOnNonSequesteredOrganization(t *testing.T) {
	store := memstore.New()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{
		ID:                            testOrg,
		IsBootstrapped:                true,
		LastRealmCertificateTimestamp: map[types.RealmID]types.Timestamp{},
	}))
	p := sequester.New(store, clock)

	err := p.CreateService(context.Background(), testOrg, sequester.CreateServiceRequest{
		ID:          types.NewSequesterServiceID(),
		Type:        types.SequesterServiceTypeStorage,
		Certificate: []byte("cert"),
		Timestamp:   types.TimestampFromTime(clock.Now()),
	})
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrOrganizationNotSequestered))
}

func TestCreateServiceRequiresValidWebhookURL(t *testing.T) {
	store, clock := newSequesteredOrg(t)
	p := sequester.New(store, clock)

	err := p.CreateService(context.Background(), testOrg, sequester.CreateServiceRequest{
		ID:          types.NewSequesterServiceID(),
		Type:        types.SequesterServiceTypeWebhook,
		Certificate: []byte("cert"),
		Timestamp:   types.TimestampFromTime(clock.Now()),
		WebhookURL:  "not a url",
	})
	require.Error(t, err)
}

func TestRevokeServiceIsIdempotentRejecting(t *testing.T) {
	store, clock := newSequesteredOrg(t)
	p := sequester.New(store, clock)
	svcID := types.NewSequesterServiceID()

	require.NoError(t, p.CreateService(context.Background(), testOrg, sequester.CreateServiceRequest{
		ID: svcID, Type: types.SequesterServiceTypeStorage,
		Certificate: []byte("cert"),
		Timestamp:   types.TimestampFromTime(clock.Now()),
	}))

	require.NoError(t, p.RevokeService(context.Background(), testOrg, svcID, types.TimestampFromTime(clock.Now().Add(time.Second))))

	err := p.RevokeService(context.Background(), testOrg, svcID, types.TimestampFromTime(clock.Now().Add(2*time.Second)))
	require.Error(t, err, "a service already disabled cannot be revoked again")
}

// Dispatch must treat a mismatched service set as SEQUESTER_INCONSISTENCY
// before touching any webhook or storage.
func TestDispatchRejectsServiceSetMismatch(t *testing.T) {
	store, clock := newSequesteredOrg(t)
	p := sequester.New(store, clock)
	svcID := types.NewSequesterServiceID()
	require.NoError(t, p.CreateService(context.Background(), testOrg, sequester.CreateServiceRequest{
		ID: svcID, Type: types.SequesterServiceTypeStorage,
		Certificate: []byte("cert"),
		Timestamp:   types.TimestampFromTime(clock.Now()),
	}))

	err := p.Dispatch(context.Background(), testOrg, types.NewVlobID(), 1, map[types.SequesterServiceID][]byte{
		types.NewSequesterServiceID(): []byte("ciphertext for an unregistered service"),
	})
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrSequesterInconsistency))
}

// A disabled webhook service is skipped entirely rather than posted to.
func TestDispatchSkipsDisabledWebhookService(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, clock := newSequesteredOrg(t)
	p := sequester.New(store, clock)
	svcID := types.NewSequesterServiceID()
	require.NoError(t, p.CreateService(context.Background(), testOrg, sequester.CreateServiceRequest{
		ID: svcID, Type: types.SequesterServiceTypeWebhook,
		Certificate: []byte("cert"),
		Timestamp:   types.TimestampFromTime(clock.Now()),
		WebhookURL:  srv.URL,
	}))
	require.NoError(t, p.RevokeService(context.Background(), testOrg, svcID, types.TimestampFromTime(clock.Now().Add(time.Second))))

	require.NoError(t, p.Dispatch(context.Background(), testOrg, types.NewVlobID(), 1, map[types.SequesterServiceID][]byte{
		svcID: []byte("ciphertext"),
	}))
	require.False(t, called, "a disabled webhook service must not be contacted")
}

// A service that is unreachable is reported as SEQUESTER_SERVICE_UNAVAILABLE.
func TestDispatchWebhookUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close() // closed immediately: connection refused

	store, clock := newSequesteredOrg(t)
	p := sequester.New(store, clock)
	svcID := types.NewSequesterServiceID()
	require.NoError(t, p.CreateService(context.Background(), testOrg, sequester.CreateServiceRequest{
		ID: svcID, Type: types.SequesterServiceTypeWebhook,
		Certificate: []byte("cert"),
		Timestamp:   types.TimestampFromTime(clock.Now()),
		WebhookURL:  srv.URL,
	}))

	err := p.Dispatch(context.Background(), testOrg, types.NewVlobID(), 1, map[types.SequesterServiceID][]byte{
		svcID: []byte("ciphertext"),
	})
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrSequesterServiceUnavailable))
}

// A webhook returning a 400 with a JSON reason surfaces that reason on the
// REJECTED_BY_SEQUESTER_SERVICE outcome, and a storage-type service never
// receives an HTTP call at all.
func TestDispatchWebhookRejectionCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"reason": "malware detected"})
	}))
	defer srv.Close()

	store, clock := newSequesteredOrg(t)
	p := sequester.New(store, clock)
	webhookID := types.NewSequesterServiceID()
	storageID := types.NewSequesterServiceID()
	require.NoError(t, p.CreateService(context.Background(), testOrg, sequester.CreateServiceRequest{
		ID: webhookID, Type: types.SequesterServiceTypeWebhook,
		Certificate: []byte("cert"),
		Timestamp:   types.TimestampFromTime(clock.Now()),
		WebhookURL:  srv.URL,
	}))
	require.NoError(t, p.CreateService(context.Background(), testOrg, sequester.CreateServiceRequest{
		ID: storageID, Type: types.SequesterServiceTypeStorage,
		Certificate: []byte("cert"),
		Timestamp:   types.TimestampFromTime(clock.Now().Add(time.Second)),
	}))

	err := p.Dispatch(context.Background(), testOrg, types.NewVlobID(), 1, map[types.SequesterServiceID][]byte{
		webhookID: []byte("ciphertext"),
		storageID: []byte("ciphertext"),
	})
	require.Error(t, err)
	require.True(t, types.Is(err, types.ErrRejectedBySequesterService))

	engineErr, ok := types.AsEngineError(err)
	require.True(t, ok)
	require.Equal(t, "malware detected", engineErr.Fields["reason"])
}
