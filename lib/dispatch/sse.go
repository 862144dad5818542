package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/parsec-io/parsec-server/lib/authctx"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/types"
)

// handleEvents serves the GET /authenticated/:org/events SSE stream (spec
// §4.8). A GET request carries no body to sign, so the Signature header
// instead covers the request path (including its query string).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	orgID, err := parseOrganizationID(ps)
	if err != nil {
		writeAbort(w, err)
		return
	}

	headers, err := parseAuthHeaders(r)
	if err != nil {
		writeAbort(w, err)
		return
	}

	ctx := r.Context()
	signedBytes := []byte(r.URL.RequestURI())
	authed, err := authctx.ResolveAuthenticated(ctx, s.deps.Store, orgID, headers.Device, signedBytes, headers.Signature, verifyEd25519)
	if err != nil {
		writeAbort(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		raw, err := types.ParseID(lastEventID)
		if err != nil {
			w.WriteHeader(abortStatus(types.Simple(types.ErrInvalidMessage)))
			return
		}
		missed, found := s.deps.Bus.SinceEventID(orgID, types.EventID(raw))
		if !found {
			w.WriteHeader(abortStatus(types.Simple(types.ErrMissingEvents)))
			return
		}
		w.WriteHeader(http.StatusOK)
		for _, evt := range missed {
			if !s.eventVisible(ctx, authed, evt) {
				continue
			}
			writeSSEEvent(w, evt)
		}
		flusher.Flush()
	} else {
		w.WriteHeader(http.StatusOK)
	}

	ch, cancel := s.deps.Bus.Subscribe(orgID)
	defer cancel()
	if s.deps.Metrics != nil {
		s.deps.Metrics.SSESubscriberConnected()
		defer s.deps.Metrics.SSESubscriberDisconnected()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !s.eventVisible(ctx, authed, evt) {
				continue
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
			if s.deps.Metrics != nil {
				s.deps.Metrics.ObserveEvent(string(evt.Kind))
			}
		}
	}
}

// eventVisible reports whether authed should observe evt: realm-scoped
// events are filtered to the user's current (or just-unshared) realms,
// everything else is organization-wide.
func (s *Server) eventVisible(ctx context.Context, authed *authctx.Authenticated, evt events.Event) bool {
	if evt.RealmID == (types.RealmID{}) {
		return true
	}
	if evt.ConcernsUser == authed.UserID {
		return true
	}
	realms, err := s.deps.Realm.CurrentRealmsForUser(ctx, authed.OrganizationID, authed.UserID)
	if err != nil {
		return false
	}
	_, ok := realms[evt.RealmID]
	return ok
}

func writeSSEEvent(w http.ResponseWriter, evt events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID.String(), evt.Kind, sseData(evt))
}

func sseData(evt events.Event) string {
	switch evt.Kind {
	case events.KindRealmCertificate:
		return fmt.Sprintf(`{"realm_id":"%s","unshared":%t}`, evt.RealmID, evt.Unshared)
	case events.KindVlobUpdated:
		return fmt.Sprintf(`{"realm_id":"%s","vlob_id":"%s","version":%d}`, evt.RealmID, evt.VlobID, evt.VlobVersion)
	case events.KindInvitationChanged:
		return fmt.Sprintf(`{"token":"%s","status":"%s"}`, evt.InvitationToken, evt.InvitationStatus)
	case events.KindOrganizationExpired:
		return `{}`
	case events.KindCommonCertificate:
		return `{}`
	default:
		return `{}`
	}
}
