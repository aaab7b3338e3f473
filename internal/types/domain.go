// Package types holds the domain model shared by every QueryGuard component:
// the escalation-relevant Query record, its status and tier enums, the
// channel identifiers used by notification providers, and the standard
// AppError type.
package types

import (
	"fmt"
	"time"
)

// QueryStatus is the lifecycle status of a customer query.
type QueryStatus string

const (
	StatusPending         QueryStatus = "PENDING"
	StatusResponded       QueryStatus = "RESPONDED"
	StatusEscalatedLevel2 QueryStatus = "ESCALATED_LEVEL2"
	StatusEscalatedLevel3 QueryStatus = "ESCALATED_LEVEL3"
	StatusResolved        QueryStatus = "RESOLVED"
)

// Valid reports whether s is a known status.
func (s QueryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusResponded, StatusEscalatedLevel2, StatusEscalatedLevel3, StatusResolved:
		return true
	}
	return false
}

// Tier is the responsibility level currently accountable for a query.
type Tier string

const (
	TierCustomerSupport Tier = "CUSTOMER_SUPPORT"
	TierManager         Tier = "MANAGER"
	TierCEO             Tier = "CEO"
)

// Tiers lists every tier in escalation order.
var Tiers = []Tier{TierCustomerSupport, TierManager, TierCEO}

// Rank orders tiers: CUSTOMER_SUPPORT=0, MANAGER=1, CEO=2. Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierCustomerSupport:
		return 0
	case TierManager:
		return 1
	case TierCEO:
		return 2
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// Next returns the tier above t. CEO is terminal and returns ok=false.
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierCustomerSupport:
		return TierManager, true
	case TierManager:
		return TierCEO, true
	}
	return "", false
}

// EscalatedStatus is the status a query carries once escalated to t.
// CUSTOMER_SUPPORT maps to PENDING.
func (t Tier) EscalatedStatus() QueryStatus {
	switch t {
	case TierManager:
		return StatusEscalatedLevel2
	case TierCEO:
		return StatusEscalatedLevel3
	}
	return StatusPending
}

// ParseTier accepts the canonical tier names plus a few operator-friendly
// aliases ("support", "cs", "manager", "ceo").
func ParseTier(s string) (Tier, error) {
	switch s {
	case string(TierCustomerSupport), "customer_support", "support", "cs":
		return TierCustomerSupport, nil
	case string(TierManager), "manager":
		return TierManager, nil
	case string(TierCEO), "ceo":
		return TierCEO, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Channel identifies a communication medium used for escalation notices.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
	ChannelSlack    Channel = "slack"
)

// IsShortMessage reports whether content for c must be a single compact block.
func (c Channel) IsShortMessage() bool {
	return c != ChannelEmail
}

// Query is the escalation-relevant customer query record.
type Query struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   *string `json:"phone,omitempty"`
	Subject *string `json:"subject,omitempty"`
	Message string  `json:"message"`

	Status          QueryStatus `json:"status"`
	EscalationLevel Tier        `json:"escalation_level"`

	CustomerSupportResponded bool `json:"customer_support_responded"`
	ManagerResponded         bool `json:"manager_responded"`
	CEOResponded             bool `json:"ceo_responded"`

	CreatedAt            time.Time  `json:"created_at"`
	EscalatedToManagerAt *time.Time `json:"escalated_to_manager_at,omitempty"`
	EscalatedToCEOAt     *time.Time `json:"escalated_to_ceo_at,omitempty"`
	LastEscalationCheck  *time.Time `json:"last_escalation_check,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`

	Notes *string `json:"notes,omitempty"`
}

// State returns the (status, level) pair used as the claim precondition.
func (q *Query) State() QueryState {
	return QueryState{Status: q.Status, Level: q.EscalationLevel}
}

// RespondedAt reports the responded flag for tier t.
func (q *Query) RespondedAt(t Tier) bool {
	switch t {
	case TierCustomerSupport:
		return q.CustomerSupportResponded
	case TierManager:
		return q.ManagerResponded
	case TierCEO:
		return q.CEOResponded
	}
	return false
}

// CurrentTierResponded reports whether the tier currently responsible has
// acknowledged the query.
func (q *Query) CurrentTierResponded() bool {
	return q.RespondedAt(q.EscalationLevel)
}

// IsResolved reports whether the query reached the terminal status.
func (q *Query) IsResolved() bool { return q.Status == StatusResolved }

// EscalatedAt returns the moment the query entered tier t. CUSTOMER_SUPPORT
// is entered at creation.
func (q *Query) EscalatedAt(t Tier) *time.Time {
	switch t {
	case TierCustomerSupport:
		created := q.CreatedAt
		return &created
	case TierManager:
		return q.EscalatedToManagerAt
	case TierCEO:
		return q.EscalatedToCEOAt
	}
	return nil
}

// Clone returns a deep copy so callers may mutate the result freely.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	c := *q
	c.Phone = cloneString(q.Phone)
	c.Subject = cloneString(q.Subject)
	c.Notes = cloneString(q.Notes)
	c.EscalatedToManagerAt = cloneTime(q.EscalatedToManagerAt)
	c.EscalatedToCEOAt = cloneTime(q.EscalatedToCEOAt)
	c.LastEscalationCheck = cloneTime(q.LastEscalationCheck)
	return &c
}

// Apply returns a copy of q with transition t applied.
func (q *Query) Apply(t Transition) *Query {
	c := q.Clone()
	c.Status = t.To.Status
	c.EscalationLevel = t.To.Level
	at := t.At
	switch t.To.Level {
	case TierManager:
		c.EscalatedToManagerAt = &at
	case TierCEO:
		c.EscalatedToCEOAt = &at
	}
	c.LastEscalationCheck = &at
	c.UpdatedAt = at
	return c
}

// QueryState is the (status, level) pair a transition is conditioned on.
type QueryState struct {
	Status QueryStatus `json:"status"`
	Level  Tier        `json:"escalation_level"`
}

func (s QueryState) String() string {
	return fmt.Sprintf("%s/%s", s.Status, s.Level)
}

// Transition describes a single escalation hop committed by the sweeper.
// At is written to the escalation timestamp of the target tier and to
// LastEscalationCheck.
type Transition struct {
	To QueryState `json:"to"`
	At time.Time  `json:"at"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PageInfo carries cursor pagination state for list operations.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}
