// Package block implements block create/read (spec §4.5).
package block

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/blockstore"
	"github.com/parsec-io/parsec-server/lib/certs"
	"github.com/parsec-io/parsec-server/lib/types"
)

// Engine implements block metadata bookkeeping plus the blockstore write.
type Engine struct {
	log      *logrus.Entry
	store    backend.Store
	payloads blockstore.Store
	clock    clockwork.Clock
	ballpark certs.BallparkConfig
	causal   *certs.CausalClock
}

// New builds a block Engine.
func New(store backend.Store, payloads blockstore.Store, clock clockwork.Clock) *Engine {
	return &Engine{
		log:      logrus.WithField(trace.Component, "block"),
		store:    store,
		payloads: payloads,
		clock:    clock,
		ballpark: certs.DefaultBallparkConfig(),
		causal:   certs.NewCausalClock(store),
	}
}

// CreateRequest is the decoded content of a block_create call.
type CreateRequest struct {
	Block     types.BlockID
	Realm     types.RealmID
	Author    types.DeviceID
	KeyIndex  uint64
	Timestamp types.Timestamp
	Data      []byte
}

// Create handles block_create: the author must be a writer in the realm and
// the block id must be fresh. Per the Open Question resolution in
// DESIGN.md, a block write checks against but does not advance
// last_realm_certificate_timestamp.
func (e *Engine) Create(ctx context.Context, org types.OrganizationID, req CreateRequest) error {
	r, err := e.store.GetRealm(ctx, org, req.Realm)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrRealmNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}

	role := r.CurrentRole(req.Author.UserID)
	if !role.IsWriter() {
		return types.Simple(types.ErrAuthorNotAllowed)
	}
	if req.KeyIndex != r.CurrentKeyIndex() {
		return types.BadKeyIndex(e.lastRealmTimestamp(ctx, org, req.Realm))
	}

	if _, err := e.store.GetBlockMeta(ctx, org, req.Block); err == nil {
		return trace.AlreadyExists("block %s already exists", req.Block)
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckBlock(ctx, org, req.Realm, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	if err := e.payloads.Create(ctx, org, req.Block, req.Data); err != nil {
		return trace.Wrap(types.Simple(types.ErrStoreUnavailable))
	}

	return trace.Wrap(e.store.CreateBlockMeta(ctx, org, &types.Block{
		OrganizationID: org,
		RealmID:        req.Realm,
		ID:             req.Block,
		KeyIndex:       req.KeyIndex,
		Size:           int64(len(req.Data)),
		Author:         req.Author,
		CreatedOn:      req.Timestamp,
	}))
}

// Read handles block_read: the author must hold at least Reader in the
// block's realm.
func (e *Engine) Read(ctx context.Context, org types.OrganizationID, author types.UserID, id types.BlockID) ([]byte, error) {
	meta, err := e.store.GetBlockMeta(ctx, org, id)
	if trace.IsNotFound(err) {
		return nil, types.Simple(types.ErrBlockNotFound)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}

	r, err := e.store.GetRealm(ctx, org, meta.RealmID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if r.CurrentRole(author) == types.RealmRoleNone {
		return nil, types.Simple(types.ErrAuthorNotAllowed)
	}

	data, err := e.payloads.Read(ctx, org, id)
	if trace.IsNotFound(err) {
		return nil, types.Simple(types.ErrBlockNotFound)
	}
	if err != nil {
		return nil, trace.Wrap(types.Simple(types.ErrStoreUnavailable))
	}
	return data, nil
}

func (e *Engine) lastRealmTimestamp(ctx context.Context, org types.OrganizationID, realm types.RealmID) types.Timestamp {
	o, err := e.store.GetOrganization(ctx, org)
	if err != nil {
		return 0
	}
	return o.LastRealmCertificateTimestamp[realm]
}
