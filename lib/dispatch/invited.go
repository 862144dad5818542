package dispatch

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/parsec-io/parsec-server/lib/authctx"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/wire"
)

// handleInvited serves /invited/:org: the claimer side of the invitation
// conduit, identified by the Invitation-Token header rather than a signed
// request (the claimer has no device yet).
func (s *Server) handleInvited(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := negotiateAPIVersion(r); err != nil {
		writeAbort(w, err)
		return
	}
	if err := checkContentType(r); err != nil {
		writeAbort(w, err)
		return
	}
	orgID, err := parseOrganizationID(ps)
	if err != nil {
		writeAbort(w, err)
		return
	}

	tokenHeader := r.Header.Get("Invitation-Token")
	rawToken, err := types.ParseID(tokenHeader)
	if err != nil {
		writeAbort(w, types.Simple(types.ErrInvitationInvalid))
		return
	}
	token := types.InvitationToken(rawToken)

	ctx := r.Context()
	invited, err := authctx.ResolveInvited(ctx, s.deps.Store, orgID, token)
	if err != nil {
		writeAbort(w, err)
		return
	}

	raw, err := readBody(r)
	if err != nil {
		writeAbort(w, err)
		return
	}
	cmd, err := wire.PeekCommand(raw)
	if err != nil {
		writeAbort(w, err)
		return
	}

	switch cmd {
	case "invite_info":
		s.invitedInfo(ctx, w, invited)
	case "invite_1_claimer_wait_peer":
		s.invitedClaimerWaitPeer(ctx, w, invited, raw)
	case "invite_claimer_exchange":
		s.invitedClaimerExchange(ctx, w, invited, raw)
	default:
		dispatchError(w, types.Simple(types.ErrInvalidMessage))
	}
}

func (s *Server) invitedInfo(ctx context.Context, w http.ResponseWriter, invited *authctx.Invited) {
	inv, err := s.deps.Invite.InfoAsInvited(ctx, invited.OrganizationID, invited.Token)
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.InviteInfoRep{
		Status:       wire.OkStatus,
		Type:         string(inv.Type),
		ClaimerEmail: inv.ClaimerEmail,
	})
}

func (s *Server) invitedClaimerWaitPeer(ctx context.Context, w http.ResponseWriter, invited *authctx.Invited, raw []byte) {
	var req wire.Invite1ClaimerWaitPeerReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	payload, _, err := s.deps.Invite.ExchangeAsClaimer(ctx, invited.OrganizationID, invited.Token, types.UserID{}, types.ConduitPhaseWaitPeers, req.ClaimerPublicKey)
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.InvitePhaseRep{Status: wire.OkStatus, Payload: payload})
}

func (s *Server) invitedClaimerExchange(ctx context.Context, w http.ResponseWriter, invited *authctx.Invited, raw []byte) {
	var req wire.InvitePhaseReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	payload, _, err := s.deps.Invite.ExchangeAsClaimer(ctx, invited.OrganizationID, invited.Token, types.UserID{}, types.ConduitPhase(req.Phase), req.Payload)
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.InvitePhaseRep{Status: wire.OkStatus, Payload: payload})
}
