package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

func rootURL(dashboardURL, rootID string) string {
	return fmt.Sprintf("%s/roots/%s", dashboardURL, rootID)
}

// buildDiscoveredMessage creates Block Kit blocks for a root-discovered
// notification. Adapted from the teacher's BuildStartedMessage.
func buildDiscoveredMessage(rootType, rootID, dashboardURL string) []goslack.Block {
	url := rootURL(dashboardURL, rootID)
	text := fmt.Sprintf(
		":mag: *New %s discovered* — %s\n%s\n<%s|View in Dashboard>",
		rootType, rootID, rootFingerprint(rootType, rootID), url,
	)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// buildRetiredMessage creates Block Kit blocks for a root-retired
// notification. Adapted from the teacher's BuildTerminalMessage.
func buildRetiredMessage(rootType, rootID, reason, dashboardURL string) []goslack.Block {
	headerText := fmt.Sprintf(":x: *%s retired* — %s\n%s", rootType, rootID, rootFingerprint(rootType, rootID))
	if reason != "" {
		headerText += fmt.Sprintf("\n\n*Reason:*\n%s", truncateForSlack(reason))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	url := rootURL(dashboardURL, rootID)
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Details", false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
