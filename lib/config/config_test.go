package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/config"
)

func TestLoadDefaults(t *testing.T) {
	c := config.Load()
	require.Equal(t, config.StorageMemory, c.Storage)
	require.Equal(t, config.BlockstoreMemory, c.Blockstore)
	require.NoError(t, c.Validate())
}

func TestValidateRejectsUnknownStorage(t *testing.T) {
	c := config.Load()
	c.Storage = "bogus"
	require.Error(t, c.Validate())
}

func TestValidateRequiresRAID5Nodes(t *testing.T) {
	c := config.Load()
	c.Blockstore = config.BlockstoreRAID5
	c.RAID5DataNode = 1
	require.Error(t, c.Validate())
	c.RAID5DataNode = 2
	require.NoError(t, c.Validate())
}

func TestLoadReadsEnv(t *testing.T) {
	os.Setenv("PARSEC_LISTEN_ADDR", ":9999")
	defer os.Unsetenv("PARSEC_LISTEN_ADDR")
	c := config.Load()
	require.Equal(t, ":9999", c.ListenAddr)
}
