// Package dispatch implements the HTTP surface of spec §4.1: the three
// per-organization trees (/anonymous, /invited, /authenticated), Api-Version
// negotiation, request signature verification and the SSE event stream,
// routed with httprouter in the manner of the teacher's lib/auth.APIServer.
package dispatch

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	parsec "github.com/parsec-io/parsec-server"
	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/block"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/invite"
	"github.com/parsec-io/parsec-server/lib/metrics"
	"github.com/parsec-io/parsec-server/lib/org"
	"github.com/parsec-io/parsec-server/lib/realm"
	"github.com/parsec-io/parsec-server/lib/sequester"
	"github.com/parsec-io/parsec-server/lib/shamir"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/vlob"
	"github.com/parsec-io/parsec-server/lib/wire"
)

// Deps collects every engine the dispatcher routes commands to.
type Deps struct {
	Store     backend.Store
	Clock     clockwork.Clock
	Bus       *events.Bus
	Org       *org.Engine
	Realm     *realm.Engine
	Vlob      *vlob.Engine
	Block     *block.Engine
	Invite    *invite.Engine
	Sequester *sequester.Pipeline
	Shamir    *shamir.Engine
	// Metrics is optional: when nil, requests are dispatched uninstrumented.
	Metrics *metrics.Registry
}

// Server is the top-level httprouter-based HTTP handler.
type Server struct {
	httprouter.Router
	deps Deps
	log  *logrus.Entry
}

// NewServer builds a Server wired to deps and registers every route.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  logrus.WithField(trace.Component, parsec.ComponentDispatch),
	}
	s.Router = *httprouter.New()
	s.Router.RedirectTrailingSlash = false

	s.POST("/anonymous/:org", s.instrument("anonymous", s.handleAnonymous))
	s.POST("/invited/:org", s.instrument("invited", s.handleInvited))
	s.POST("/authenticated/:org", s.instrument("authenticated", s.handleAuthenticated))
	s.GET("/authenticated/:org/events", s.handleEvents)
	if deps.Metrics != nil {
		s.Handler("GET", "/metrics", deps.Metrics.Handler())
	}

	return s
}

// statusCapturingWriter wraps a ResponseWriter to remember the status code
// written, so instrument can label the request without every handler having
// to report its own outcome.
type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// instrument wraps a route handler with request-count and duration metrics,
// labeled by command family (spec §2's ambient observability stack). Engine
// errors return HTTP 200 and are labeled "ok" like successes; aborts
// (authentication, version, content-type failures) are labeled with their
// numeric HTTP status.
func (s *Server) instrument(family string, next httprouter.Handle) httprouter.Handle {
	if s.deps.Metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := s.deps.Clock.Now()
		sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r, ps)
		status := "ok"
		if sw.status != http.StatusOK {
			status = strconv.Itoa(sw.status)
		}
		s.deps.Metrics.ObserveRequest(family, status, s.deps.Clock.Now().Sub(start))
	}
}

// negotiateAPIVersion parses the Api-Version header ("major.minor") and
// rejects anything whose major component this server cannot speak (spec §5).
func negotiateAPIVersion(r *http.Request) error {
	header := r.Header.Get("Api-Version")
	if header == "" {
		return nil
	}
	parts := strings.SplitN(header, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return types.Simple(types.ErrIncompatibleAPIVersion)
	}
	if major != parsec.APIVersionMajor {
		return types.Simple(types.ErrIncompatibleAPIVersion)
	}
	return nil
}

// readBody reads and size-bounds the request body, rejecting anything larger
// than parsec.MaxHTTPRequestSize before a single byte reaches the msgpack
// decoder.
func readBody(r *http.Request) ([]byte, error) {
	limited := http.MaxBytesReader(nil, r.Body, parsec.MaxHTTPRequestSize)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, types.Simple(types.ErrInvalidMessage)
	}
	return raw, nil
}

// checkContentType validates the Content-Type / Accept headers the dispatch
// contract requires (spec §4.1): both must name the msgpack media type.
func checkContentType(r *http.Request) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/msgpack") {
		return types.Simple(types.ErrBadContentType)
	}
	if accept := r.Header.Get("Accept"); accept != "" && accept != "*/*" && !strings.HasPrefix(accept, "application/msgpack") {
		return types.Simple(types.ErrBadAcceptType)
	}
	return nil
}

// writeRep encodes rep to msgpack and writes it with HTTP 200, the status
// every engine-level outcome (success or failure alike) is reported with.
func writeRep(w http.ResponseWriter, rep any) {
	raw, err := wire.Encode(rep)
	if err != nil {
		writeAbort(w, trace.Wrap(err))
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// writeEngineError encodes an engine-level EngineError as a 200 response
// carrying the wire ErrorRep (spec §7.2-§7.6: these are not HTTP failures).
func writeEngineError(w http.ResponseWriter, err error) {
	writeRep(w, wire.ErrorRep(err))
}

// writeAbort maps a dispatcher/protocol-level abort (spec §7.1) to its HTTP
// status, writing an empty body.
func writeAbort(w http.ResponseWriter, err error) {
	w.WriteHeader(abortStatus(err))
}

// dispatchError routes any error either of these two ways, depending on
// whether it is a known EngineError (handled as a 200 response) or a
// dispatcher-level abort / unexpected failure (handled as a non-200 abort).
func dispatchError(w http.ResponseWriter, err error) {
	if trace.IsAccessDenied(err) {
		writeAbort(w, err)
		return
	}
	if types.Is(err, types.ErrOrganizationNotFound) ||
		types.Is(err, types.ErrOrganizationExpired) ||
		types.Is(err, types.ErrAuthorNotFound) ||
		types.Is(err, types.ErrAuthorRevoked) ||
		types.Is(err, types.ErrUserFrozen) ||
		types.Is(err, types.ErrInvitationInvalid) ||
		types.Is(err, types.ErrIncompatibleAPIVersion) ||
		types.Is(err, types.ErrBadAcceptType) ||
		types.Is(err, types.ErrBadContentType) ||
		types.Is(err, types.ErrInvalidAuthentication) ||
		types.Is(err, types.ErrBadOrganization) ||
		types.Is(err, types.ErrInvalidMessage) ||
		types.Is(err, types.ErrMissingEvents) {
		writeAbort(w, err)
		return
	}
	if _, ok := types.AsEngineError(err); ok {
		writeEngineError(w, err)
		return
	}
	logrus.WithField(trace.Component, parsec.ComponentDispatch).WithError(err).Error("unhandled dispatch error")
	w.WriteHeader(http.StatusInternalServerError)
}

// parseOrganizationID validates the :org path parameter.
func parseOrganizationID(ps httprouter.Params) (types.OrganizationID, error) {
	raw := ps.ByName("org")
	if raw == "" {
		return "", types.Simple(types.ErrBadOrganization)
	}
	return types.OrganizationID(raw), nil
}
