package wire

// BlockCreateReq is the block_create command body.
type BlockCreateReq struct {
	Cmd       string    `msgpack:"cmd"`
	RealmID   ID        `msgpack:"realm_id"`
	BlockID   ID        `msgpack:"block_id"`
	KeyIndex  uint64    `msgpack:"key_index"`
	Timestamp Timestamp `msgpack:"timestamp"`
	Block     []byte    `msgpack:"block"`
}

// BlockReadReq is the block_read command body.
type BlockReadReq struct {
	Cmd     string `msgpack:"cmd"`
	BlockID ID     `msgpack:"block_id"`
}

// BlockReadRep is the successful block_read response.
type BlockReadRep struct {
	Status string `msgpack:"status"`
	Block  []byte `msgpack:"block"`
}
