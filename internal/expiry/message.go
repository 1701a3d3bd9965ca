package expiry

import (
	"fmt"
	"strconv"

	"penwatch/internal/push"
	"penwatch/internal/store"
)

// Payload constants. Field names and values are a bit-exact contract with the
// receiving client; the client's service worker routes on them.
const (
	payloadType = "pension_expiry"
	clickAction = "FLUTTER_NOTIFICATION_CLICK"

	msgTitle = "⚠️ Pensión próxima a vencer"
)

// BuildMessage constructs the multicast message for one matched pension.
// The body pluralizes "día" on daysBefore (singular only for exactly 1).
func BuildMessage(p store.Pension, daysBefore int, tokens []string) push.Message {
	plural := "s"
	if daysBefore == 1 {
		plural = ""
	}
	return push.Message{
		Title: msgTitle,
		Body:  fmt.Sprintf("%s - %s vence en %d día%s", p.PersonName, p.CompanyName, daysBefore, plural),
		Data: map[string]string{
			"type":           payloadType,
			"pensionId":      p.ID,
			"personName":     p.PersonName,
			"companyName":    p.CompanyName,
			"expirationDate": p.ExpirationDate,
			"daysBefore":     strconv.Itoa(daysBefore),
			"click_action":   clickAction,
		},
		Tokens: tokens,
	}
}
