// Package blockstore defines the storage interface for immutable block
// payloads (spec §4.5), kept separate from the metadata in lib/backend so a
// deployment can mix a SQL metadata store with a different payload store.
package blockstore

import (
	"context"

	"github.com/parsec-io/parsec-server/lib/types"
)

// Store reads and writes block payload bytes, keyed by organization and
// block id. Implementations report absence via trace.NotFound and a
// temporarily-unreachable backing store via trace.ConnectionProblem, which
// engines map to BLOCK_NOT_FOUND and STORE_UNAVAILABLE respectively.
type Store interface {
	Create(ctx context.Context, org types.OrganizationID, id types.BlockID, data []byte) error
	Read(ctx context.Context, org types.OrganizationID, id types.BlockID) ([]byte, error)
}
