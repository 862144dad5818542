package dispatch

import (
	"context"
	"net/http"

	"github.com/parsec-io/parsec-server/lib/authctx"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/wire"
)

func (s *Server) authInviteNewUser(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.InviteNewUserReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	token, err := s.deps.Invite.NewForUser(ctx, authed.OrganizationID, authed.DeviceID, authed.Profile, req.ClaimerEmail, req.SendEmail)
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.InviteNewRep{Status: wire.OkStatus, Token: wire.InvitationToken(token)})
}

func (s *Server) authInviteNewDevice(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated) {
	token, err := s.deps.Invite.NewForDevice(ctx, authed.OrganizationID, authed.DeviceID)
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.InviteNewRep{Status: wire.OkStatus, Token: wire.InvitationToken(token)})
}

func (s *Server) authInviteCancel(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.InviteCancelReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	err := s.deps.Invite.Cancel(ctx, authed.OrganizationID, authed.DeviceID, authed.Profile, req.Token.InvitationToken())
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authInviteList(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated) {
	invitations, err := s.deps.Invite.List(ctx, authed.OrganizationID, authed.UserID)
	if err != nil {
		dispatchError(w, err)
		return
	}
	entries := make([]wire.InviteListEntry, 0, len(invitations))
	for _, inv := range invitations {
		entries = append(entries, wire.InviteListEntry{
			Token:     wire.InvitationToken(inv.Token),
			Type:      string(inv.Type),
			CreatedOn: wire.FromTimestamp(inv.CreatedOn),
			Status:    string(inv.Status),
		})
	}
	writeRep(w, wire.InviteListRep{Status: wire.OkStatus, Invitations: entries})
}

func (s *Server) authInviteListAsUser(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.InviteListAsUserReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	token := req.Token.InvitationToken()
	ready := false
	for _, t := range s.deps.Invite.ReadyClaimers(authed.OrganizationID) {
		if t == token {
			ready = true
			break
		}
	}
	writeRep(w, wire.InviteListAsUserRep{Status: wire.OkStatus, Ready: ready})
}

func (s *Server) authGreeterWaitPeer(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.Invite1GreeterWaitPeerReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	payload, err := s.deps.Invite.ExchangeAsGreeter(ctx, authed.OrganizationID, req.Token.InvitationToken(), authed.UserID, types.ConduitPhaseWaitPeers, req.GreeterPublicKey, false)
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.InvitePhaseRep{Status: wire.OkStatus, Payload: payload})
}

func (s *Server) authGreeterExchange(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.InvitePhaseReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	payload, err := s.deps.Invite.ExchangeAsGreeter(ctx, authed.OrganizationID, req.Token.InvitationToken(), authed.UserID, types.ConduitPhase(req.Phase), req.Payload, req.Last)
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, wire.InvitePhaseRep{Status: wire.OkStatus, Payload: payload})
}
