/*
Copyright 2015-2020 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package events is the server-side half of the event bus (spec §4.8):
// a per-organization fan-out publisher feeding the SSE endpoint, plus the
// catalog of event kinds a client can observe.
package events

import (
	"github.com/parsec-io/parsec-server/lib/types"
)

// Kind identifies the shape of an Event's payload, mirroring the
// client-observable event family of spec §4.8.
type Kind string

const (
	// KindPinged is a no-op liveness event built by PingedEvent; no protocol
	// command publishes it, and it is used in tests.
	KindPinged Kind = "pinged"

	// KindRealmCertificate fires whenever a realm gains a new role or key
	// rotation certificate: creation, share, unshare or rotate_key.
	KindRealmCertificate Kind = "realm.certificate"

	// KindVlobUpdated fires on every successful vlob_create/vlob_update.
	KindVlobUpdated Kind = "vlob.updated"

	// KindInvitationChanged fires when an invitation's status transitions,
	// e.g. a claimer reaching the conduit or a greeter cancelling.
	KindInvitationChanged Kind = "invitation.changed"

	// KindCommonCertificate fires on user/device create, user profile
	// update and user revoke.
	KindCommonCertificate Kind = "common.certificate"

	// KindOrganizationExpired fires once when an organization transitions
	// into the expired state.
	KindOrganizationExpired Kind = "organization.expired"
)

// Event is a single published occurrence. Only the fields relevant to Kind
// are populated; the rest are the zero value.
type Event struct {
	ID             types.EventID
	OrganizationID types.OrganizationID
	Kind           Kind
	Timestamp      types.Timestamp

	// RealmCertificate / VlobUpdated.
	RealmID types.RealmID

	// CommonCertificate / RealmCertificate: who the certificate concerns.
	ConcernsUser types.UserID
	// RealmCertificate: true when the certificate is an unshare (role=None).
	Unshared bool

	// VlobUpdated.
	VlobID      types.VlobID
	VlobVersion uint64

	// InvitationChanged.
	InvitationToken  types.InvitationToken
	InvitationStatus types.InvitationStatus
}

// PingedEvent builds a KindPinged event carrying no payload beyond the
// organization and timestamp.
func PingedEvent(org types.OrganizationID, ts types.Timestamp) Event {
	return Event{ID: types.NewEventID(), OrganizationID: org, Kind: KindPinged, Timestamp: ts}
}

// RealmCertificateEvent builds a KindRealmCertificate event.
func RealmCertificateEvent(org types.OrganizationID, realm types.RealmID, ts types.Timestamp, concernsUser types.UserID, unshared bool) Event {
	return Event{
		ID:             types.NewEventID(),
		OrganizationID: org,
		Kind:           KindRealmCertificate,
		Timestamp:      ts,
		RealmID:        realm,
		ConcernsUser:   concernsUser,
		Unshared:       unshared,
	}
}

// CommonCertificateEvent builds a KindCommonCertificate event.
func CommonCertificateEvent(org types.OrganizationID, ts types.Timestamp, concernsUser types.UserID) Event {
	return Event{
		ID:             types.NewEventID(),
		OrganizationID: org,
		Kind:           KindCommonCertificate,
		Timestamp:      ts,
		ConcernsUser:   concernsUser,
	}
}

// VlobUpdatedEvent builds a KindVlobUpdated event.
func VlobUpdatedEvent(org types.OrganizationID, realm types.RealmID, vlob types.VlobID, version uint64, ts types.Timestamp) Event {
	return Event{
		ID:             types.NewEventID(),
		OrganizationID: org,
		Kind:           KindVlobUpdated,
		Timestamp:      ts,
		RealmID:        realm,
		VlobID:         vlob,
		VlobVersion:    version,
	}
}

// InvitationChangedEvent builds a KindInvitationChanged event.
func InvitationChangedEvent(org types.OrganizationID, token types.InvitationToken, status types.InvitationStatus, ts types.Timestamp) Event {
	return Event{
		ID:               types.NewEventID(),
		OrganizationID:   org,
		Kind:             KindInvitationChanged,
		Timestamp:        ts,
		InvitationToken:  token,
		InvitationStatus: status,
	}
}

// OrganizationExpiredEvent builds a KindOrganizationExpired event.
func OrganizationExpiredEvent(org types.OrganizationID, ts types.Timestamp) Event {
	return Event{ID: types.NewEventID(), OrganizationID: org, Kind: KindOrganizationExpired, Timestamp: ts}
}

// VisibleTo reports whether a subscriber with access to userRealms should
// observe this event. Events with no RealmID (common certificates,
// invitations, organization-wide events) are visible to every subscriber in
// the organization; realm-scoped events are visible only to current or
// just-unshared realm members, which the caller determines from the role
// history before calling Publish.
func (e Event) VisibleTo(userRealms map[types.RealmID]struct{}) bool {
	if e.RealmID == (types.RealmID{}) {
		return true
	}
	_, ok := userRealms[e.RealmID]
	return ok
}
