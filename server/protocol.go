// nymstr-groupd - Single-Group Mixnet Relay
// Copyright (C) 2025 nymstr-project
//
// This file is part of nymstr-groupd.
//
// nymstr-groupd is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// nymstr-groupd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with nymstr-groupd. If not, see <https://www.gnu.org/licenses/>.

package server

import "encoding/json"

// Request actions.
const (
	ActionRegister     = "register"
	ActionApproveGroup = "approveGroup"
	ActionConnect      = "connect"
	ActionSendGroup    = "sendGroup"
	ActionFetchGroup   = "fetchGroup"

	actionErrorResponse = "errorResponse"
)

// The content strings below are wire contract; clients match on them
// verbatim.
const (
	contentPending  = "pending"
	contentSuccess  = "success"
	contentInternal = "error: internal"

	contentMalformed     = "error: malformed"
	contentTooLarge      = "error: too large"
	contentUnknownAction = "error: unknown action"

	contentRegistrationFailed = "error: registration failed"
	contentAlreadyRegistered  = "error: user already registered"
	contentUnauthorized       = "error: unauthorized or bad signature"
	contentApproveFailed      = "error: approve failed"
	contentNotApproved        = "error: user not registered or not approved"
	contentBadSignature       = "error: bad signature"
	contentNotConnected       = "error: not connected"
	contentMissingCiphertext  = "error: missing ciphertext"
)

// Request is the inbound envelope. One struct covers all actions; each
// handler enforces its own required-field set. Unknown fields are ignored
// by the decoder.
type Request struct {
	Action     string  `json:"action"`
	Username   string  `json:"username"`
	PublicKey  string  `json:"publicKey"`
	Signature  string  `json:"signature"`
	Ciphertext string  `json:"ciphertext"`
	LastSeenID *string `json:"lastSeenId"` // pointer: "" is a valid value, absence is not
}

// Reply is the outbound envelope. Signature is an armored detached PGP
// signature over the UTF-8 bytes of Content, except for fetchGroup
// replies where it covers the serialized Messages array.
type Reply struct {
	Action    string          `json:"action"`
	Content   string          `json:"content"`
	Messages  json.RawMessage `json:"messages,omitempty"`
	Signature string          `json:"signature"`
}

// responseAction maps a request action to its reply action.
func responseAction(requestAction string) string {
	switch requestAction {
	case ActionRegister, ActionApproveGroup, ActionConnect, ActionSendGroup, ActionFetchGroup:
		return requestAction + "Response"
	default:
		return actionErrorResponse
	}
}
