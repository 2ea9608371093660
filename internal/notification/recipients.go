package notification

import (
	"strings"

	"github.com/samber/lo"
)

var recipientReplacer = strings.NewReplacer("+", "", " ", "", "-", "")

// ParseRecipients splits a comma-separated list, trimming entries and
// dropping empty ones. Order is preserved.
func ParseRecipients(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Compact(parts)
}

// NormalizeRecipient strips '+', spaces and '-' from a phone number.
func NormalizeRecipient(r string) string {
	return recipientReplacer.Replace(r)
}
