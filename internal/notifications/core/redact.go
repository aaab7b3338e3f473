package core

import (
	"strings"

	"queryguard/internal/types"
)

// RedactEmail masks an email address for safe logging: "john@gmail.com"
// becomes "j***@gmail.com". Input without "@" is fully masked.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}

// RedactPhone keeps the last two digits of a phone number or chat id.
func RedactPhone(phone string) string {
	if len(phone) <= 2 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}

// RedactRecipient masks an address according to the channel it is used on.
// Slack addresses are channel names and are left as is.
func RedactRecipient(ch types.Channel, to string) string {
	switch ch {
	case types.ChannelEmail:
		return RedactEmail(to)
	case types.ChannelSlack:
		return to
	default:
		return RedactPhone(to)
	}
}
