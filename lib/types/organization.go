package types

import "time"

// ActiveUsersLimit caps the number of non-revoked users in an organization.
// A nil value means "unbounded".
type ActiveUsersLimit *int

// NoActiveUsersLimit returns the "unbounded" sentinel.
func NoActiveUsersLimit() ActiveUsersLimit { return nil }

// TosEntry is one locale's terms-of-service URL.
type TosEntry struct {
	Locale string
	URL    string
}

// SequesterAuthority describes an organization's sequester authority, if any.
type SequesterAuthority struct {
	VerifyKeyDER []byte
	Timestamp    Timestamp
}

// Organization is the root container entity (spec §3).
type Organization struct {
	ID                     OrganizationID
	RootVerifyKey          []byte // nil until bootstrapped
	IsExpired              bool
	BootstrapToken         string
	IsBootstrapped         bool
	ActiveUsersLimit       ActiveUsersLimit
	UserProfileOutsiderAllowed bool
	MinimumArchivingPeriod time.Duration
	AllowedClientAgent     string
	AccountVaultStrategy   string
	SequesterAuthority     *SequesterAuthority
	TosPerLocale           []TosEntry
	TosUpdatedOn           Timestamp

	// LastCertificateTimestamp is the organization-wide causal clock
	// ceiling: the max timestamp over every common, realm, sequester and
	// shamir certificate inserted so far. Zero before bootstrap.
	LastCertificateTimestamp Timestamp

	// LastCommonCertificateTimestamp and LastRealmCertificateTimestamp are
	// only meaningful once the organization is bootstrapped.
	LastCommonCertificateTimestamp Timestamp
	LastRealmCertificateTimestamp  map[RealmID]Timestamp
}

// IsSequestered reports whether the organization enforces the sequester
// webhook/storage pipeline on every vlob write.
func (o *Organization) IsSequestered() bool {
	return o.SequesterAuthority != nil
}
