package notify

import (
	"errors"
	"fmt"

	"ms-activity/internal/models"
)

// BuildTitleBody renders the user-facing text of a notification.
func BuildTitleBody(t models.NotificationType, payload map[string]any) (title, body string, err error) {
	eventTitle, _ := payload["event_title"].(string)
	if eventTitle == "" {
		return "", "", errors.New("missing event_title")
	}

	switch t {
	case models.NotifyRequestReceived:
		return "New join request",
			fmt.Sprintf("Someone asked to join %s. Review the request.", eventTitle), nil

	case models.NotifyRequestApproved:
		if paid, _ := payload["via_payment"].(bool); paid {
			return "Payment confirmed 🎉",
				fmt.Sprintf("Your payment went through and you are in for %s.", eventTitle), nil
		}
		return "Request approved 🎉",
			fmt.Sprintf("You are approved for %s. See you there!", eventTitle), nil

	case models.NotifyRequestRejected:
		return "Request declined",
			fmt.Sprintf("The host declined your request to join %s.", eventTitle), nil

	case models.NotifyEventCompleted:
		return fmt.Sprintf("%s is completed", eventTitle),
			fmt.Sprintf("%s has wrapped up. Rate the people you met.", eventTitle), nil

	case models.NotifyEventCancelled:
		reason, _ := payload["reason"].(string)
		if reason == "" {
			return "", "", errors.New("missing reason")
		}
		return fmt.Sprintf("%s is cancelled", eventTitle),
			fmt.Sprintf("%s was cancelled by the host: %s", eventTitle, reason), nil
	}
	return "", "", fmt.Errorf("unknown notification type: %s", t)
}
