// Package shamir implements shamir recovery setup and listing (spec §C.4
// supplement): a user pre-registers a brief certificate plus one
// certificate per share recipient, so that later a quorum of recipients can
// reconstruct the user's private keys.
package shamir

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/certs"
	"github.com/parsec-io/parsec-server/lib/types"
)

// Engine implements shamir_recovery_setup / shamir_recovery_list_as_user.
type Engine struct {
	log      *logrus.Entry
	store    backend.Store
	clock    clockwork.Clock
	ballpark certs.BallparkConfig
	causal   *certs.CausalClock
}

// New builds a shamir Engine.
func New(store backend.Store, clock clockwork.Clock) *Engine {
	return &Engine{
		log:      logrus.WithField(trace.Component, "shamir"),
		store:    store,
		clock:    clock,
		ballpark: certs.DefaultBallparkConfig(),
		causal:   certs.NewCausalClock(store),
	}
}

// SetupRequest is the decoded content of a shamir_recovery_setup call.
type SetupRequest struct {
	UserID            types.UserID
	Author            types.DeviceID
	Timestamp         types.Timestamp
	BriefCertificate  []byte
	ShareCertificates map[types.UserID][]byte
	Threshold         int
	Shares            []types.ShamirRecoveryShare
}

// Setup handles shamir_recovery_setup: the author must be setting up their
// own recovery, the author must not appear among the recipients, every
// share recipient must be a distinct, existing, non-revoked user, the
// threshold must not exceed the total share count, and a prior setup for
// the same user must not already exist (no operation removes an existing
// setup).
func (e *Engine) Setup(ctx context.Context, org types.OrganizationID, req SetupRequest) error {
	if req.UserID != req.Author.UserID {
		return types.Simple(types.ErrAuthorNotAllowed)
	}
	if req.Threshold <= 0 {
		return trace.BadParameter("threshold must be positive")
	}

	totalShares := 0
	seen := make(map[types.UserID]bool, len(req.Shares))
	for _, s := range req.Shares {
		if s.Recipient == req.Author.UserID {
			return trace.BadParameter("author cannot be included as a recipient")
		}
		if seen[s.Recipient] {
			return trace.BadParameter("duplicate share for recipient %s", s.Recipient)
		}
		seen[s.Recipient] = true
		totalShares += s.ShareCount
	}
	if req.Threshold > totalShares {
		return trace.BadParameter("threshold greater than total shares")
	}
	for recipient := range req.ShareCertificates {
		if !seen[recipient] {
			return trace.BadParameter("share certificate for recipient %s not in brief", recipient)
		}
	}
	for _, s := range req.Shares {
		if _, ok := req.ShareCertificates[s.Recipient]; !ok {
			return trace.BadParameter("missing share certificate for recipient %s", s.Recipient)
		}
	}

	unlock, err := e.store.Lock(ctx, org, backend.TopicShamir)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	for recipient := range req.ShareCertificates {
		user, err := e.store.GetUser(ctx, org, recipient)
		if trace.IsNotFound(err) {
			return trace.BadParameter("recipient %s not found", recipient)
		}
		if err != nil {
			return trace.Wrap(err)
		}
		if user.IsRevoked() {
			return trace.BadParameter("recipient %s is revoked", recipient)
		}
	}

	if existing, err := e.store.GetShamirRecoverySetup(ctx, org, req.UserID); err == nil && existing.DeletedOn == nil {
		return trace.AlreadyExists("a shamir recovery setup already exists for %s", req.UserID)
	} else if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}

	if err := certs.CheckBallpark(e.clock, e.ballpark, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}
	if err := e.causal.CheckAndAdvanceShamir(ctx, org, req.Timestamp); err != nil {
		return trace.Wrap(err)
	}

	return trace.Wrap(e.store.SetShamirRecoverySetup(ctx, org, &types.ShamirRecoverySetup{
		UserID:            req.UserID,
		BriefCertificate:  req.BriefCertificate,
		ShareCertificates: req.ShareCertificates,
		Threshold:         req.Threshold,
		Shares:            req.Shares,
		CreatedOn:         req.Timestamp,
		Author:            req.Author,
	}))
}

// ListAsUser handles shamir_recovery_list_as_user: returns every setup
// naming user as a recipient, plus the user's own setup if any.
func (e *Engine) ListAsUser(ctx context.Context, org types.OrganizationID, user types.UserID) (own *types.ShamirRecoverySetup, recipientOf []*types.ShamirRecoverySetup, err error) {
	own, err = e.store.GetShamirRecoverySetup(ctx, org, user)
	if err != nil && !trace.IsNotFound(err) {
		return nil, nil, trace.Wrap(err)
	}
	if trace.IsNotFound(err) {
		own = nil
	}

	users, err := e.store.ListUsers(ctx, org)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	for _, u := range users {
		if u.ID == user {
			continue
		}
		setup, err := e.store.GetShamirRecoverySetup(ctx, org, u.ID)
		if trace.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		if setup.DeletedOn != nil {
			continue
		}
		for _, s := range setup.Shares {
			if s.Recipient == user {
				recipientOf = append(recipientOf, setup)
				break
			}
		}
	}
	return own, recipientOf, nil
}
