package analyzer

import (
	"strings"

	"github.com/felixgeelhaar/rewind/internal/provider"
)

const systemPrompt = "You are a helpful assistant that analyzes screen content to help users with memory difficulties remember what they were doing. Be concise and accurate. Always respond with valid JSON only."

var kindDescriptions = []struct {
	kind Kind
	desc string
}{
	{KindOTP, "OTP codes or verification codes"},
	{KindPhone, "Phone numbers"},
	{KindEmail, "Email addresses"},
	{KindName, "Names of people or companies"},
	{KindURL, "URLs or links"},
	{KindPrice, "Prices or amounts"},
	{KindDate, "Dates or times"},
	{KindOrder, "Order numbers or tracking numbers"},
	{KindOther, "Any other critical information"},
}

// BuildMessages returns the system and user messages for one transcript.
// Only kinds in allowed are requested; nil requests all of them.
func BuildMessages(transcript string, allowed map[Kind]bool) []provider.Message {
	return []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt(transcript, allowed)},
	}
}

func userPrompt(transcript string, allowed map[Kind]bool) string {
	var b strings.Builder
	b.WriteString("Analyze the following screen text captured from a user's computer and extract:\n\n")
	b.WriteString(`1. ACTIVITY: What is the user currently doing? (e.g., "writing an email", "browsing Reddit", "coding in VS Code")` + "\n")
	b.WriteString(`2. APPLICATION: What application or website are they using? (e.g., "Gmail", "Chrome - Reddit", "Visual Studio Code")` + "\n")
	b.WriteString("3. KEY_INFO: Extract any important information that the user might need to remember, such as:\n")

	var types []string
	for _, kd := range kindDescriptions {
		if allowed != nil && !allowed[kd.kind] {
			continue
		}
		b.WriteString("   - " + kd.desc + "\n")
		types = append(types, string(kd.kind))
	}

	b.WriteString("\nScreen text:\n---\n")
	b.WriteString(transcript)
	b.WriteString("\n---\n\n")
	b.WriteString(`Respond in the following JSON format only (no markdown, no extra text):
{
    "activity": "brief description of what user is doing",
    "application": "name of app or website",
    "key_info": [
        {"type": "otp", "value": "123456", "context": "from Gmail"},
        {"type": "email", "value": "person@example.com", "context": "sender"}
    ]
}
`)
	if len(types) > 0 {
		b.WriteString("\nThe type of each key_info item must be one of: " + strings.Join(types, ", ") + ".\n")
	}
	b.WriteString("If no key information is found, return an empty array for key_info.\n")
	b.WriteString("Only include key_info items that are clearly important - don't include generic UI text.")
	return b.String()
}
