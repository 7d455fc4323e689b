package sync

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is the push/pull protocol version this server speaks.
const ProtocolVersion = 1

// ClientGroup is a set of clients (tabs, devices) sharing one cached view.
// It is created lazily on first contact and owned by exactly one user for
// its lifetime.
type ClientGroup struct {
	ID                string
	TenantID          string
	UserID            string
	ClientVersion     int64 // incremented once per applied mutation
	ClientViewVersion int64 // newest cookie order handed out to the group
	UpdatedAt         time.Time
}

// Client is one mutation-submitting participant within a client group.
// LastMutationID is the idempotency high-water mark; ClientVersion records
// the group clientVersion at which LastMutationID last changed, which is how
// pulls compute lastMutationIDChanges.
type Client struct {
	ID             string
	TenantID       string
	ClientGroupID  string
	LastMutationID int64
	ClientVersion  int64
	UpdatedAt      time.Time
}

// ClientView is one cookie ever handed out to a client group: the cookie
// order plus the group clientVersion at issue time.
type ClientView struct {
	ClientGroupID string
	Version       int64
	ClientVersion int64
}

// ClientViewRecord tracks which version of one row a client group last
// received, and at which cookie that fact became true. EntityVersion nil is
// a tombstone: the client has been told the row does not exist.
type ClientViewRecord struct {
	Entity            string
	EntityID          string
	EntityVersion     *int64
	ClientViewVersion int64
}

// ResolveOutcome distinguishes first contact from a returning group/client.
type ResolveOutcome int

const (
	Found ResolveOutcome = iota
	Initialized
)

// Mutation is one entry of a client's outgoing change log.
type Mutation struct {
	ID       int64           `json:"id"`
	ClientID string          `json:"clientID"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
}

// PushRequest is the body of the push endpoint.
type PushRequest struct {
	PushVersion   int        `json:"pushVersion"`
	ClientGroupID string     `json:"clientGroupID"`
	Mutations     []Mutation `json:"mutations"`
}

// Cookie is the opaque-to-the-client pull position marker.
type Cookie struct {
	Order int64 `json:"order"`
}

// PullRequest is the body of the pull endpoint. A nil cookie means the
// client has no cached state at all.
type PullRequest struct {
	PullVersion   int     `json:"pullVersion"`
	ClientGroupID string  `json:"clientGroupID"`
	Cookie        *Cookie `json:"cookie"`
}

// PatchOperation is one entry of a pull response patch.
type PatchOperation struct {
	Op    string `json:"op"` // "clear", "put" or "del"
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`
}

// PullResponse is the body of the pull endpoint response.
type PullResponse struct {
	Cookie                Cookie           `json:"cookie"`
	LastMutationIDChanges map[string]int64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOperation `json:"patch"`
}
