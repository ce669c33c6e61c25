// Package notification is the fan-out hub: it persists one notification per
// committed event and pushes it to the addressee's live sessions.
package notification

import (
	"fmt"

	"qatmarket/internal/domain"
)

// Priority represents the urgency of the notification.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// Render builds the human-readable title and body of an event.
func Render(p domain.Payload) (subject, body string, priority Priority) {
	switch v := p.(type) {
	case domain.OrderUpdated:
		subject = "Order Updated"
		body = fmt.Sprintf("Order %s is now %s.", v.OrderCode, v.Status)
		priority = PriorityNormal
		if v.WashIncomplete {
			body += " The wash service has not finished yet."
			priority = PriorityHigh
		}

	case domain.WalletUpdated:
		subject = "Wallet Updated"
		switch {
		case v.Delta.IsPositive():
			body = fmt.Sprintf("%s credited. Balance %s.", v.Delta.StringFixed(2), v.Balance.StringFixed(2))
		case v.Delta.IsNegative():
			body = fmt.Sprintf("%s debited. Balance %s.", v.Delta.Neg().StringFixed(2), v.Balance.StringFixed(2))
		default:
			body = fmt.Sprintf("Available balance %s.", v.Available.StringFixed(2))
		}
		priority = PriorityHigh

	case domain.WithdrawalStatusChanged:
		subject = "Withdrawal " + string(v.Status)
		body = fmt.Sprintf("Your withdrawal of %s is %s.", v.Amount.StringFixed(2), v.Status)
		if v.Reason != "" {
			body += " Reason: " + v.Reason
		}
		priority = PriorityHigh

	case domain.GiftCodeRedeemed:
		subject = "Gift Code Redeemed"
		body = fmt.Sprintf("Gift code ending %s added %s to your wallet.", last4(v.Code), v.Amount.StringFixed(2))
		priority = PriorityNormal

	case domain.ChatMessage:
		subject = "New Message"
		body = v.Body
		priority = PriorityLow

	case domain.SystemAlert:
		subject = "Security Alert"
		body = v.Message
		priority = PriorityUrgent

	default:
		subject = "Notification"
		body = fmt.Sprintf("Event: %T", p)
	}
	return subject, body, priority
}

func last4(code string) string {
	if len(code) <= 4 {
		return code
	}
	return code[len(code)-4:]
}
