package invite

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/types"
)

// EmailSender delivers the "you've been invited" notification for a USER
// invitation. The server never templates or transports the email itself
// (spec §1 lists email delivery as an external collaborator); this is the
// seam a real deployment plugs a mailer into.
type EmailSender interface {
	SendInvitationEmail(ctx context.Context, org types.OrganizationID, claimerEmail string, token types.InvitationToken) error
}

// NoopEmailSender logs the send instead of delivering anything, matching
// spec §1's "email delivery is out of scope, only its interface is
// specified" stance. It is the default when no EmailSender is configured.
type NoopEmailSender struct {
	Log *logrus.Entry
}

// SendInvitationEmail implements EmailSender by logging at info level.
func (n NoopEmailSender) SendInvitationEmail(_ context.Context, org types.OrganizationID, claimerEmail string, token types.InvitationToken) error {
	log := n.Log
	if log == nil {
		log = logrus.WithField(trace.Component, "invite")
	}
	log.WithFields(logrus.Fields{
		"organization_id": org,
		"claimer_email":   claimerEmail,
		"token":           token,
	}).Info("invitation email requested, no mailer configured: skipping delivery")
	return nil
}

// Engine implements invite_new/invite_cancel/invite_list (spec §C.3
// supplement) plus the conduit exchange operations.
type Engine struct {
	log      *logrus.Entry
	store    backend.Store
	clock    clockwork.Clock
	bus      *events.Bus
	registry *Registry
	mailer   EmailSender
}

// New builds an invite Engine with the no-op mailer.
func New(store backend.Store, clock clockwork.Clock, bus *events.Bus) *Engine {
	return NewWithMailer(store, clock, bus, nil)
}

// NewWithMailer builds an invite Engine using the given EmailSender; a nil
// mailer falls back to NoopEmailSender.
func NewWithMailer(store backend.Store, clock clockwork.Clock, bus *events.Bus, mailer EmailSender) *Engine {
	log := logrus.WithField(trace.Component, "invite")
	if mailer == nil {
		mailer = NoopEmailSender{Log: log}
	}
	return &Engine{
		log:      log,
		store:    store,
		clock:    clock,
		bus:      bus,
		registry: NewRegistry(),
		mailer:   mailer,
	}
}

// NewForUser handles invite_new for a USER invitation. author must be an
// Admin. A pending invitation for the same email is reused rather than
// duplicated, matching the original implementation.
func (e *Engine) NewForUser(ctx context.Context, org types.OrganizationID, author types.DeviceID, authorProfile types.Profile, claimerEmail string, sendEmail bool) (types.InvitationToken, error) {
	if authorProfile != types.ProfileAdmin {
		return types.InvitationToken{}, types.Simple(types.ErrAuthorNotAllowed)
	}

	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return types.InvitationToken{}, trace.Wrap(err)
	}
	defer unlock()

	if existing, err := e.store.FindPendingUserInvitation(ctx, org, claimerEmail); err == nil {
		return existing.Token, nil
	} else if !trace.IsNotFound(err) {
		return types.InvitationToken{}, trace.Wrap(err)
	}

	inv := &types.Invitation{
		Token:           types.NewInvitationToken(),
		Type:            types.InvitationTypeUser,
		CreatedByDevice: author,
		CreatedOn:       types.TimestampFromTime(e.clock.Now()),
		ClaimerEmail:    claimerEmail,
		Status:          types.InvitationStatusPending,
	}
	if err := e.store.CreateInvitation(ctx, org, inv); err != nil {
		return types.InvitationToken{}, trace.Wrap(err)
	}

	e.bus.Publish(org, events.InvitationChangedEvent(org, inv.Token, inv.Status, inv.CreatedOn))

	if sendEmail {
		if err := e.mailer.SendInvitationEmail(ctx, org, claimerEmail, inv.Token); err != nil {
			e.log.WithError(err).Warn("invitation email delivery failed")
		}
	}
	return inv.Token, nil
}

// NewForDevice handles invite_new for a DEVICE invitation: any authenticated
// user may invite one of their own new devices.
func (e *Engine) NewForDevice(ctx context.Context, org types.OrganizationID, author types.DeviceID) (types.InvitationToken, error) {
	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return types.InvitationToken{}, trace.Wrap(err)
	}
	defer unlock()

	now := types.TimestampFromTime(e.clock.Now())
	inv := &types.Invitation{
		Token:           types.NewInvitationToken(),
		Type:            types.InvitationTypeDevice,
		CreatedByDevice: author,
		CreatedOn:       now,
		Status:          types.InvitationStatusPending,
	}
	if err := e.store.CreateInvitation(ctx, org, inv); err != nil {
		return types.InvitationToken{}, trace.Wrap(err)
	}

	e.bus.Publish(org, events.InvitationChangedEvent(org, inv.Token, inv.Status, now))
	return inv.Token, nil
}

// Cancel handles invite_cancel: only the invitation's creator (or another
// Admin) may cancel it, and it must not already be in a terminal state.
func (e *Engine) Cancel(ctx context.Context, org types.OrganizationID, author types.DeviceID, authorProfile types.Profile, token types.InvitationToken) error {
	unlock, err := e.store.Lock(ctx, org, backend.TopicCommon)
	if err != nil {
		return trace.Wrap(err)
	}
	defer unlock()

	inv, err := e.store.GetInvitation(ctx, org, token)
	if trace.IsNotFound(err) {
		return types.Simple(types.ErrInvitationNotFound)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if inv.CreatedByDevice.UserID != author.UserID && authorProfile != types.ProfileAdmin {
		return types.Simple(types.ErrAuthorNotAllowed)
	}
	if inv.Status == types.InvitationStatusCancelled {
		return types.Simple(types.ErrInvitationAlreadyDeleted)
	}
	if inv.Status == types.InvitationStatusFinished {
		return types.Simple(types.ErrInvitationAlreadyUsed)
	}

	if err := e.store.UpdateInvitationStatus(ctx, org, token, types.InvitationStatusCancelled); err != nil {
		return trace.Wrap(err)
	}
	e.registry.Delete(org, token)
	e.bus.Publish(org, events.InvitationChangedEvent(org, token, types.InvitationStatusCancelled, types.TimestampFromTime(e.clock.Now())))
	return nil
}

// List handles invite_list: every invitation created by author, newest
// first conceptually left to the caller (the store returns insertion order).
func (e *Engine) List(ctx context.Context, org types.OrganizationID, author types.UserID) ([]*types.Invitation, error) {
	all, err := e.store.ListInvitations(ctx, org)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*types.Invitation, 0, len(all))
	for _, inv := range all {
		if inv.CreatedByDevice.UserID == author {
			out = append(out, inv)
		}
	}
	return out, nil
}

// InfoAsInvited handles invite_info for an invited (unauthenticated) caller.
func (e *Engine) InfoAsInvited(ctx context.Context, org types.OrganizationID, token types.InvitationToken) (*types.Invitation, error) {
	inv, err := e.store.GetInvitation(ctx, org, token)
	if trace.IsNotFound(err) {
		return nil, types.Simple(types.ErrInvitationInvalid)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if inv.Status.IsTerminal() {
		return nil, types.Simple(types.ErrInvitationInvalid)
	}
	return inv, nil
}

// ReadyClaimers exposes the conduit registry's best-effort liveness set.
func (e *Engine) ReadyClaimers(org types.OrganizationID) []types.InvitationToken {
	return e.registry.ReadyClaimers(org)
}

// ExchangeAsGreeter runs one phase of the conduit as the greeter. On the
// final phase 4 submission, if last is true, the invitation is marked
// FINISHED and its mailbox torn down.
func (e *Engine) ExchangeAsGreeter(ctx context.Context, org types.OrganizationID, token types.InvitationToken, greeter types.UserID, phase types.ConduitPhase, payload []byte, last bool) ([]byte, error) {
	inv, err := e.store.GetInvitation(ctx, org, token)
	if trace.IsNotFound(err) {
		return nil, types.Simple(types.ErrInvitationInvalid)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if inv.Status.IsTerminal() {
		return nil, types.Simple(types.ErrInvitationInvalid)
	}

	if phase == types.ConduitPhaseGreeterNonce && inv.Status == types.InvitationStatusPending {
		if err := e.store.UpdateInvitationStatus(ctx, org, token, types.InvitationStatusReady); err == nil {
			e.bus.Publish(org, events.InvitationChangedEvent(org, token, types.InvitationStatusReady, types.TimestampFromTime(e.clock.Now())))
		}
	}

	peerPayload, _, err := e.registry.Exchange(ctx, org, token, greeter, true, phase, payload, last)
	if err != nil {
		return nil, err
	}

	if phase == types.ConduitPhaseCommunicate && last {
		if err := e.store.UpdateInvitationStatus(ctx, org, token, types.InvitationStatusFinished); err == nil {
			e.bus.Publish(org, events.InvitationChangedEvent(org, token, types.InvitationStatusFinished, types.TimestampFromTime(e.clock.Now())))
		}
		e.registry.Delete(org, token)
	}
	return peerPayload, nil
}

// ExchangeAsClaimer runs one phase of the conduit as the claimer.
func (e *Engine) ExchangeAsClaimer(ctx context.Context, org types.OrganizationID, token types.InvitationToken, greeter types.UserID, phase types.ConduitPhase, payload []byte) ([]byte, bool, error) {
	inv, err := e.store.GetInvitation(ctx, org, token)
	if trace.IsNotFound(err) {
		return nil, false, types.Simple(types.ErrInvitationInvalid)
	}
	if err != nil {
		return nil, false, trace.Wrap(err)
	}
	if inv.Status.IsTerminal() {
		return nil, false, types.Simple(types.ErrInvitationInvalid)
	}

	return e.registry.Exchange(ctx, org, token, greeter, false, phase, payload, false)
}
