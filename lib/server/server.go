// Package server wires the engines, datamodel, blockstore, event bus and
// dispatcher into a single process, in the manner of the teacher's
// lib/auth.NewAPIServer: a single constructor that takes a config struct,
// builds every collaborator and returns an http.Handler ready to serve.
package server

import (
	"context"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/backend/memstore"
	"github.com/parsec-io/parsec-server/lib/backend/sqlstore"
	"github.com/parsec-io/parsec-server/lib/block"
	"github.com/parsec-io/parsec-server/lib/blockstore"
	"github.com/parsec-io/parsec-server/lib/blockstore/raid5"
	"github.com/parsec-io/parsec-server/lib/certs"
	"github.com/parsec-io/parsec-server/lib/config"
	"github.com/parsec-io/parsec-server/lib/dispatch"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/invite"
	"github.com/parsec-io/parsec-server/lib/metrics"
	"github.com/parsec-io/parsec-server/lib/org"
	"github.com/parsec-io/parsec-server/lib/realm"
	"github.com/parsec-io/parsec-server/lib/sequester"
	"github.com/parsec-io/parsec-server/lib/shamir"
	"github.com/parsec-io/parsec-server/lib/types"
	"github.com/parsec-io/parsec-server/lib/vlob"
)

// Server is a fully wired parsec-server process: the HTTP dispatcher plus
// the closeable resources it was built on top of (currently only matters
// for sqlstore, which owns a *sql.DB).
type Server struct {
	Handler http.Handler

	store     backend.Store
	orgEngine *org.Engine
	closers   []func() error
}

// New builds every collaborator described by cfg and returns a ready
// http.Handler. Callers are responsible for mounting it behind an
// http.Server/net.Listener (left to cmd/parsec-server, as the teacher does
// by separating NewAPIServer from the process that calls http.ListenAndServe).
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, trace.Wrap(err)
	}

	log := logrus.WithField(trace.Component, "server")
	clock := clockwork.NewRealClock()
	bus := events.New()

	srv := &Server{}

	var store backend.Store
	switch cfg.Storage {
	case config.StorageSQL:
		sqlStore, err := sqlstore.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		store = sqlStore
		srv.closers = append(srv.closers, sqlStore.Close)
		log.WithField("dsn", cfg.SQLiteDSN).Info("using sql datamodel store")
	default:
		store = memstore.New()
		log.Info("using in-memory datamodel store")
	}
	srv.store = store

	var payloads blockstore.Store
	switch cfg.Blockstore {
	case config.BlockstoreRAID5:
		nodes := make([]blockstore.Store, cfg.RAID5DataNode+1)
		for i := range nodes {
			nodes[i] = blockstore.NewMemStore()
		}
		raidStore, err := raid5.New(nodes)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		payloads = raidStore
		log.WithField("data_nodes", cfg.RAID5DataNode).Info("using raid5 blockstore")
	default:
		payloads = blockstore.NewMemStore()
		log.Info("using in-memory blockstore")
	}

	ballpark := certs.BallparkConfig{EarlyOffset: cfg.BallparkEarly, LateOffset: cfg.BallparkLate}

	orgEngine := org.New(store, clock, bus)
	orgEngine.SetBallparkConfig(ballpark)
	realmEngine := realm.New(store, clock, bus)
	realmEngine.SetBallparkConfig(ballpark)
	sequesterPipeline := sequester.New(store, clock)
	vlobEngine := vlob.New(store, clock, bus, sequesterPipeline)
	vlobEngine.SetBallparkConfig(ballpark)
	blockEngine := block.New(store, payloads, clock)
	inviteEngine := invite.New(store, clock, bus)
	shamirEngine := shamir.New(store, clock)

	var metricsRegistry *metrics.Registry
	if cfg.MetricsEnabled {
		metricsRegistry = metrics.New()
	}

	srv.orgEngine = orgEngine

	srv.Handler = dispatch.NewServer(dispatch.Deps{
		Store:     store,
		Clock:     clock,
		Bus:       bus,
		Org:       orgEngine,
		Realm:     realmEngine,
		Vlob:      vlobEngine,
		Block:     blockEngine,
		Invite:    inviteEngine,
		Sequester: sequesterPipeline,
		Shamir:    shamirEngine,
		Metrics:   metricsRegistry,
	})

	return srv, nil
}

// CreateOrganization is the administrative organization-create operation
// (spec §6 "POST /administration/organizations", out of core scope beyond
// this single call it shares with the rest of the codec/datamodel): it is
// exposed here rather than over HTTP because spec §1 places admin tooling
// out of scope, leaving process embedders (tests, an internal admin CLI) to
// call it directly.
func (s *Server) CreateOrganization(ctx context.Context, id string, bootstrapToken string) error {
	return s.orgEngine.Create(ctx, types.OrganizationID(id), bootstrapToken, nil, false)
}

// Close releases every resource New acquired (currently the sqlstore
// *sql.DB, when PARSEC_STORAGE=sql).
func (s *Server) Close() error {
	var firstErr error
	for _, closer := range s.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
