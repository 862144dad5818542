package wire

// SequesterServiceCreateReq is the sequester_service_create command body.
type SequesterServiceCreateReq struct {
	Cmd         string    `msgpack:"cmd"`
	ServiceID   ID        `msgpack:"service_id"`
	Type        string    `msgpack:"service_type"`
	Certificate []byte    `msgpack:"service_certificate"`
	WebhookURL  string    `msgpack:"webhook_url,omitempty"`
	Timestamp   Timestamp `msgpack:"timestamp"`
}

// SequesterServiceRevokeReq is the sequester_service_revoke command body.
type SequesterServiceRevokeReq struct {
	Cmd       string    `msgpack:"cmd"`
	ServiceID ID        `msgpack:"service_id"`
	Timestamp Timestamp `msgpack:"timestamp"`
}
