// Package contracts defines the negotiated entities the connector
// operates on: contract rules and agreements. Persistence of these
// entities is owned by the storage collaborator; the types here carry
// explicit status fields rather than relying on hidden query-time
// filtering.
package contracts

import (
	"time"
)

// RuleStatus is the explicit lifecycle state of a rule record.
// Superseded rules are kept, never purged.
type RuleStatus string

const (
	RuleActive     RuleStatus = "active"
	RuleSuperseded RuleStatus = "superseded"
)

// Rule is a single usage-control clause attached to a contract. The
// definition text is immutable after creation; revisions create a new
// rule version and mark the old one superseded.
type Rule struct {
	ID         string     `json:"id"`
	RemoteID   string     `json:"remoteId,omitempty"`
	Definition []byte     `json:"definition"`
	Status     RuleStatus `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Agreement is the outcome record of a successful contract negotiation.
// Confirmed flips false→true exactly once, at negotiation completion;
// it never reverts.
type Agreement struct {
	ID        string    `json:"id"`
	RemoteID  string    `json:"remoteId"`
	RuleText  []byte    `json:"ruleText"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Contract aggregates the rules a negotiation agreed on.
type Contract struct {
	ID      string   `json:"id"`
	RuleIDs []string `json:"ruleIds"`
}
