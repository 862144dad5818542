// Package sequester implements the sequester service registry and the
// outbound webhook pipeline vlob writes run through before being persisted
// (spec §4.7).
package sequester

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/certs"
	"github.com/parsec-io/parsec-server/lib/types"
)

// Pipeline validates and stores sequester services, and runs a vlob write's
// per-service ciphertexts through any webhook services before the write is
// allowed to commit.
type Pipeline struct {
	log      *logrus.Entry
	store    backend.Store
	clock    clockwork.Clock
	ballpark certs.BallparkConfig
	causal   *certs.CausalClock
	client   *http.Client
}

// New builds a sequester Pipeline. The outbound webhook client has no
// dependency in the retrieved corpus more specific than the standard
// library's net/http, so it is used directly (see DESIGN.md).
func New(store backend.Store, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		log:      logrus.WithField(trace.Component, "sequester"),
		store:    store,
		clock:    clock,
		ballpark: certs.DefaultBallparkConfig(),
		causal:   certs.NewCausalClock(store),
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

// OrganizationIsSequestered reports whether org has at least one registered
// sequester service.
func (p *Pipeline) OrganizationIsSequestered(ctx context.Context, org types.OrganizationID) bool {
	o, err := p.store.GetOrganization(ctx, org)
	if err != nil {
		return false
	}
	return o.IsSequestered()
}

// CreateServiceRequest is the decoded content of a sequester_service_create
// call (spec §C supplement).
type CreateServiceRequest struct {
	ID          types.SequesterServiceID
	Type        types.SequesterServiceType
	Certificate []byte
	Timestamp   types.Timestamp
	WebhookURL  string
}

// CreateService handles sequester_service_create.
func (p *Pipeline) CreateService(ctx context.Context, org types.OrganizationID, req CreateServiceRequest) error {
	if req.Type == types.SequesterServiceTypeWebhook {
		if _, err := url.ParseRequestURI(req.WebhookURL); err != nil {
			return trace.BadParameter("invalid webhook_url: %v", err)
		}
	}

	unlock, err := p.store.Lock(ctx, org, backend.TopicSequester)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	o, err := p.store.GetOrganization(ctx, org)
	if err != nil {
		return trace.Wrap(err)
	}
	if !o.IsSequestered() {
		return types.Simple(types.ErrOrganizationNotSequestered)
	}

	if _, err := p.store.GetSequesterService(ctx, org, req.ID); err == nil {
		return trace.AlreadyExists("sequester service %s already exists", req.ID)
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}

	if err := certs.CheckBallpark(p.clock, p.ballpark, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := p.causal.CheckAndAdvanceSequester(ctx, org, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	return trace.Wrap(p.store.CreateSequesterService(ctx, org, &types.SequesterService{
		ID:          req.ID,
		Type:        req.Type,
		Certificate: req.Certificate,
		CreatedOn:   req.Timestamp,
		WebhookURL:  req.WebhookURL,
	}))
}

// RevokeService handles sequester_service_revoke: it is recorded as a
// disabled_on timestamp rather than a deletion, so prior vlob ciphertexts
// addressed to the service remain attributable.
func (p *Pipeline) RevokeService(ctx context.Context, org types.OrganizationID, id types.SequesterServiceID, when types.Timestamp) error {
	unlock, err := p.store.Lock(ctx, org, backend.TopicSequester)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	svc, err := p.store.GetSequesterService(ctx, org, id)
	if trace.IsNotFound(err) {
		return trace.NotFound("sequester service %s not found", id)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if svc.IsDisabled() {
		return trace.AlreadyExists("sequester service %s already disabled", id)
	}
	return trace.Wrap(p.store.DisableSequesterService(ctx, org, id, when))
}

// webhookRejection is the JSON shape a webhook returns on a 400 response.
type webhookRejection struct {
	Reason string `json:"reason"`
}

// Dispatch sends each per-service ciphertext in blobs to its webhook (if
// any), persisting storage-type service ciphertexts directly. The first
// service to reject or be unavailable aborts the whole write: nothing is
// stored for any service on failure, since the original implementation
// sends every webhook before the corresponding vlob row commits.
func (p *Pipeline) Dispatch(ctx context.Context, org types.OrganizationID, vlobID types.VlobID, version uint64, blobs map[types.SequesterServiceID][]byte) error {
	services, err := p.store.ListSequesterServices(ctx, org)
	if err != nil {
		return trace.Wrap(err)
	}
	byID := make(map[types.SequesterServiceID]*types.SequesterService, len(services))
	for _, s := range services {
		byID[s.ID] = s
	}
	if len(blobs) != len(byID) {
		return types.Simple(types.ErrSequesterInconsistency)
	}
	for id := range blobs {
		if _, ok := byID[id]; !ok {
			return types.Simple(types.ErrSequesterInconsistency)
		}
	}

	for id, blob := range blobs {
		svc := byID[id]
		if svc.IsDisabled() || svc.Type != types.SequesterServiceTypeWebhook {
			continue
		}
		if err := p.postWebhook(ctx, org, svc, blob); err != nil {
			return err
		}
	}
	for id, blob := range blobs {
		if err := p.store.StoreSequesterCiphertext(ctx, org, vlobID, version, id, blob); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (p *Pipeline) postWebhook(ctx context.Context, org types.OrganizationID, svc *types.SequesterService, blob []byte) error {
	u, err := url.Parse(svc.WebhookURL)
	if err != nil {
		return types.SequesterServiceUnavailable(svc.ID)
	}
	q := u.Query()
	q.Set("organization_id", string(org))
	q.Set("service_id", svc.ID.String())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(blob))
	if err != nil {
		return types.SequesterServiceUnavailable(svc.ID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.WithError(err).WithField("service_id", svc.ID.String()).Warn("sequester webhook unreachable")
		return types.SequesterServiceUnavailable(svc.ID)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		var rejection webhookRejection
		if err := json.NewDecoder(resp.Body).Decode(&rejection); err != nil || rejection.Reason == "" {
			return types.RejectedBySequesterService(svc.ID, "rejected with no reason given")
		}
		return types.RejectedBySequesterService(svc.ID, rejection.Reason)
	default:
		p.log.WithField("service_id", svc.ID.String()).WithField("status", resp.StatusCode).
			Warn("sequester webhook returned unexpected status")
		return types.SequesterServiceUnavailable(svc.ID)
	}
}
