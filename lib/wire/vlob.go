package wire

// VlobCreateReq is the vlob_create command body.
type VlobCreateReq struct {
	Cmd           string           `msgpack:"cmd"`
	RealmID       ID               `msgpack:"realm_id"`
	VlobID        ID               `msgpack:"vlob_id"`
	KeyIndex      uint64           `msgpack:"key_index"`
	Timestamp     Timestamp        `msgpack:"timestamp"`
	Blob          []byte           `msgpack:"blob"`
	SequesterBlob map[ID][]byte    `msgpack:"sequester_blob,omitempty"`
}

// VlobUpdateReq is the vlob_update command body.
type VlobUpdateReq struct {
	Cmd           string        `msgpack:"cmd"`
	VlobID        ID            `msgpack:"vlob_id"`
	Version       uint64        `msgpack:"version"`
	KeyIndex      uint64        `msgpack:"key_index"`
	Timestamp     Timestamp     `msgpack:"timestamp"`
	Blob          []byte        `msgpack:"blob"`
	SequesterBlob map[ID][]byte `msgpack:"sequester_blob,omitempty"`
}

// VlobReadAsUserReq is the vlob_read_as_user command body.
type VlobReadAsUserReq struct {
	Cmd     string `msgpack:"cmd"`
	RealmID ID     `msgpack:"realm_id"`
	VlobIDs []ID   `msgpack:"vlobs"`
}

// VlobReadItem is one entry of a vlob_read_as_user response.
type VlobReadItem struct {
	VlobID       ID        `msgpack:"vlob_id"`
	Version      uint64    `msgpack:"version"`
	AuthorDevice DeviceID  `msgpack:"author"`
	Timestamp    Timestamp `msgpack:"timestamp"`
	Blob         []byte    `msgpack:"blob"`
}

// VlobReadAsUserRep is the successful vlob_read_as_user response.
type VlobReadAsUserRep struct {
	Status                          string         `msgpack:"status"`
	Items                           []VlobReadItem `msgpack:"items"`
	LastCommonCertificateTimestamp  Timestamp      `msgpack:"last_common_certificate_timestamp"`
	LastRealmCertificateTimestamp   Timestamp      `msgpack:"last_realm_certificate_timestamp"`
}

// VlobPollChangesAsUserReq is the vlob_poll_changes_as_user command body.
type VlobPollChangesAsUserReq struct {
	Cmd        string `msgpack:"cmd"`
	RealmID    ID     `msgpack:"realm_id"`
	Checkpoint uint64 `msgpack:"checkpoint"`
}

// VlobPollChangesAsUserRep is the successful vlob_poll_changes_as_user
// response.
type VlobPollChangesAsUserRep struct {
	Status        string         `msgpack:"status"`
	CurrentCheckpoint uint64     `msgpack:"current_checkpoint"`
	Changes       map[ID]uint64  `msgpack:"changes"`
}
