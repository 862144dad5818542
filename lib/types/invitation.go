package types

// Invitation is a pending enrollment (spec §3).
type Invitation struct {
	Token           InvitationToken
	Type            InvitationType
	CreatedByDevice DeviceID
	CreatedOn       Timestamp
	ClaimerEmail    string  // InvitationTypeUser only
	ClaimerUserID   *UserID // InvitationTypeShamirRecovery only
	Status          InvitationStatus
}

// SequesterService is a registered sequester participant for a sequestered
// organization (spec §3).
type SequesterService struct {
	ID          SequesterServiceID
	Type        SequesterServiceType
	Certificate []byte
	CreatedOn   Timestamp
	DisabledOn  *Timestamp
	WebhookURL  string // SequesterServiceTypeWebhook only
}

// IsDisabled reports whether the service has been revoked.
func (s *SequesterService) IsDisabled() bool {
	return s.DisabledOn != nil
}

// ShamirRecoveryShare is one recipient's share allotment in a Shamir
// recovery setup (supplemented feature, SPEC_FULL.md §C.4).
type ShamirRecoveryShare struct {
	Recipient  UserID
	ShareCount int
}

// ShamirRecoverySetup describes a user's configured recovery scheme.
type ShamirRecoverySetup struct {
	UserID          UserID
	BriefCertificate []byte
	ShareCertificates map[UserID][]byte
	Threshold       int
	Shares          []ShamirRecoveryShare
	CreatedOn       Timestamp
	Author          DeviceID
	DeletedOn       *Timestamp
}
