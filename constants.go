/*
Copyright 2018-2019 Gravitational, Inc.

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

// Package parsec holds the handful of module-wide constants shared across
// the server packages, in the manner of the root package of a teleport-style
// codebase.
package parsec

import "strings"

// APIVersionMajor and APIVersionMinor are the highest Api-Version this
// server negotiates with clients (spec §5 dispatcher contract).
const (
	APIVersionMajor = 4
	APIVersionMinor = 0
)

// Component generates "component:subcomponent1:subcomponent2" strings used
// as the trace.Component logrus field.
func Component(components ...string) string {
	return strings.Join(components, ":")
}

const (
	// ComponentRealm, ComponentVlob, etc. name the engines for logging.
	ComponentRealm     = "realm"
	ComponentVlob      = "vlob"
	ComponentBlock     = "block"
	ComponentInvite    = "invite"
	ComponentSequester = "sequester"
	ComponentShamir    = "shamir"
	ComponentDispatch  = "dispatch"
	ComponentEvents    = "events"
)

// MaxHTTPRequestSize is the maximum accepted size (in bytes) of the body of
// a received HTTP request, enforced by the dispatcher ahead of msgpack
// decoding to bound resource exhaustion attacks.
const MaxHTTPRequestSize = 10 * 1024 * 1024

// EventVlobMaxBlobSize is the EVENT_VLOB_MAX_BLOB_SIZE threshold (spec §4.4):
// a vlob.updated event's blob is omitted above this size and subscribers
// must fetch it with vlob_read instead.
const EventVlobMaxBlobSize = 128 * 1024
