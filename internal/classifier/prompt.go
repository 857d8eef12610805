package classifier

import (
	"fmt"

	"mailwatch/pkg/util"
)

const maxBodyLen = 2000

// BuildPrompt renders the instruction sent to the model. The body is cut to
// 2000 characters first.
func BuildPrompt(subject, body, sender string) string {
	return fmt.Sprintf(`Analyze the email below and classify how important it is for the recipient.

From: %s
Subject: %s
Body:
%s

Guidelines:
- "high": urgent or time-sensitive matters, requests from clients or management, contracts, payments, legal or security issues, anything needing action today.
- "medium": relevant work communication that can wait a little.
- "low": newsletters, promotions, notifications and other informational mail.

Reply with strict JSON only, no markdown, with exactly these fields:
{
  "importance": "high" | "medium" | "low",
  "summary": "one sentence summary, at most 200 characters",
  "confidence": number from 0 to 100,
  "keywords": ["up to 10 keywords"]
}`, sender, subject, util.Truncate(body, maxBodyLen))
}
