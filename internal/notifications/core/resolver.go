package core

import (
	"sync"

	"queryguard/internal/config"
	"queryguard/internal/types"
)

// Recipient holds the addresses a tier is reached at. Messaging is a phone
// number, chat id or channel id depending on the messaging provider.
type Recipient struct {
	Email     string `json:"email,omitempty"`
	Messaging string `json:"messaging,omitempty"`
}

// For returns the address used on ch.
func (r Recipient) For(ch types.Channel) string {
	if ch == types.ChannelEmail {
		return r.Email
	}
	return r.Messaging
}

// IsZero reports whether no address is set.
func (r Recipient) IsZero() bool {
	return r.Email == "" && r.Messaging == ""
}

// ContactDirectory is the explicit tier -> contact table.
type ContactDirectory struct {
	Tiers   map[types.Tier]Recipient
	Default Recipient
}

// DirectoryFromConfig builds the directory from CONTACT_* settings.
func DirectoryFromConfig(c config.ContactsConfig) ContactDirectory {
	return ContactDirectory{
		Tiers: map[types.Tier]Recipient{
			types.TierCustomerSupport: {Email: c.SupportEmail, Messaging: c.SupportMessaging},
			types.TierManager:         {Email: c.ManagerEmail, Messaging: c.ManagerMessaging},
			types.TierCEO:             {Email: c.CEOEmail, Messaging: c.CEOMessaging},
		},
		Default: Recipient{Email: c.DefaultEmail, Messaging: c.DefaultMessaging},
	}
}

type fallbackKey struct {
	tier  types.Tier
	field string
}

// Resolver resolves tier contacts from a ContactDirectory. A missing field
// falls back to the customer support contact and then to the directory
// default. Each fallback is logged once per (tier, field).
type Resolver struct {
	dir    ContactDirectory
	logger types.Logger

	mu     sync.Mutex
	warned map[fallbackKey]bool
}

// NewResolver creates a Resolver. logger may be nil.
func NewResolver(dir ContactDirectory, logger types.Logger) *Resolver {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Resolver{dir: dir, logger: logger, warned: make(map[fallbackKey]bool)}
}

// Resolve returns the contact for tier. ok is false when no address at all
// could be found; callers treat that as "skip every channel".
func (r *Resolver) Resolve(tier types.Tier) (Recipient, bool) {
	own := r.dir.Tiers[tier]
	support := r.dir.Tiers[types.TierCustomerSupport]

	out := Recipient{
		Email:     r.pick(tier, "email", own.Email, support.Email, r.dir.Default.Email),
		Messaging: r.pick(tier, "messaging", own.Messaging, support.Messaging, r.dir.Default.Messaging),
	}
	return out, !out.IsZero()
}

func (r *Resolver) pick(tier types.Tier, field, own, support, def string) string {
	if own != "" {
		return own
	}
	source := ""
	value := ""
	switch {
	case tier != types.TierCustomerSupport && support != "":
		source, value = "customer_support", support
	case def != "":
		source, value = "default", def
	default:
		source = "none"
	}
	r.warnOnce(tier, field, source)
	return value
}

func (r *Resolver) warnOnce(tier types.Tier, field, source string) {
	key := fallbackKey{tier: tier, field: field}
	r.mu.Lock()
	seen := r.warned[key]
	r.warned[key] = true
	r.mu.Unlock()
	if seen {
		return
	}
	r.logger.Warn("tier contact missing, using fallback",
		"tier", string(tier),
		"field", field,
		"config_contact_fallback", source,
	)
}
