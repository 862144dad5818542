package server_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/config"
	"github.com/parsec-io/parsec-server/lib/server"
)

func TestNewWiresMemoryDeployment(t *testing.T) {
	cfg := config.Load()
	srv, err := server.New(cfg)
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.CreateOrganization(context.Background(), "acme", "s3cr3t"))

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()
}

func TestNewWiresSQLAndRAID5Deployment(t *testing.T) {
	cfg := config.Load()
	cfg.Storage = config.StorageSQL
	cfg.SQLiteDSN = ":memory:"
	cfg.Blockstore = config.BlockstoreRAID5
	cfg.RAID5DataNode = 2

	srv, err := server.New(cfg)
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.CreateOrganization(context.Background(), "acme", "s3cr3t"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Load()
	cfg.Storage = "bogus"
	_, err := server.New(cfg)
	require.Error(t, err)
}
