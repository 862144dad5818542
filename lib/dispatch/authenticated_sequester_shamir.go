package dispatch

import (
	"context"
	"net/http"

	"github.com/parsec-io/parsec-server/lib/authctx"
	"github.com/parsec-io/parsec-server/lib/sequester"
	"github.com/parsec-io/parsec-server/lib/shamir"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/wire"
)

func (s *Server) authSequesterServiceCreate(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	if authed.Profile != types.ProfileAdmin {
		dispatchError(w, types.Simple(types.ErrAuthorNotAllowed))
		return
	}
	var req wire.SequesterServiceCreateReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	err := s.deps.Sequester.CreateService(ctx, authed.OrganizationID, sequester.CreateServiceRequest{
		ID:          req.ServiceID.SequesterServiceID(),
		Type:        types.SequesterServiceType(req.Type),
		Certificate: req.Certificate,
		Timestamp:   req.Timestamp.ToTimestamp(),
		WebhookURL:  req.WebhookURL,
	})
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authSequesterServiceRevoke(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	if authed.Profile != types.ProfileAdmin {
		dispatchError(w, types.Simple(types.ErrAuthorNotAllowed))
		return
	}
	var req wire.SequesterServiceRevokeReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}
	err := s.deps.Sequester.RevokeService(ctx, authed.OrganizationID, req.ServiceID.SequesterServiceID(), req.Timestamp.ToTimestamp())
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authShamirSetup(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated, raw []byte) {
	var req wire.ShamirRecoverySetupReq
	if err := wire.Decode(raw, &req); err != nil {
		dispatchError(w, err)
		return
	}

	shares := make([]types.ShamirRecoveryShare, 0, len(req.Shares))
	for _, entry := range req.Shares {
		shares = append(shares, types.ShamirRecoveryShare{
			Recipient:  entry.Recipient.UserID(),
			ShareCount: entry.ShareCount,
		})
	}
	certs := make(map[types.UserID][]byte, len(req.ShareCertificates))
	for id, cert := range req.ShareCertificates {
		certs[id.UserID()] = cert
	}

	err := s.deps.Shamir.Setup(ctx, authed.OrganizationID, shamir.SetupRequest{
		UserID:            authed.UserID,
		Author:            authed.DeviceID,
		Timestamp:         req.Timestamp.ToTimestamp(),
		BriefCertificate:  req.BriefCertificate,
		ShareCertificates: certs,
		Threshold:         req.Threshold,
		Shares:            shares,
	})
	if err != nil {
		dispatchError(w, err)
		return
	}
	writeRep(w, map[string]string{"status": wire.OkStatus})
}

func (s *Server) authShamirListAsUser(ctx context.Context, w http.ResponseWriter, authed *authctx.Authenticated) {
	own, recipientOf, err := s.deps.Shamir.ListAsUser(ctx, authed.OrganizationID, authed.UserID)
	if err != nil {
		dispatchError(w, err)
		return
	}

	rep := wire.ShamirRecoveryListAsUserRep{Status: wire.OkStatus}
	if own != nil {
		entry := shamirSetupEntry(authed.UserID, own)
		rep.Own = &entry
	}
	for _, setup := range recipientOf {
		rep.RecipientOf = append(rep.RecipientOf, shamirSetupEntry(setup.UserID, setup))
	}
	writeRep(w, rep)
}

func shamirSetupEntry(user types.UserID, setup *types.ShamirRecoverySetup) wire.ShamirRecoverySetupEntry {
	shares := make([]wire.ShamirRecoveryShareEntry, 0, len(setup.Shares))
	for _, s := range setup.Shares {
		shares = append(shares, wire.ShamirRecoveryShareEntry{
			Recipient:  wire.UserID(s.Recipient),
			ShareCount: s.ShareCount,
		})
	}
	return wire.ShamirRecoverySetupEntry{
		UserID:           wire.UserID(user),
		BriefCertificate: setup.BriefCertificate,
		Threshold:        setup.Threshold,
		Shares:           shares,
		CreatedOn:        wire.FromTimestamp(setup.CreatedOn),
	}
}
