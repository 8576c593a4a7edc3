// Package prompt renders tenant configuration and retrieved knowledge into
// the system instruction for the generation service. Rendering is pure and
// deterministic: same inputs, same prompt, no external calls.
package prompt

import (
	"fmt"
	"strings"

	"github.com/attendlabs/attend/internal/store"
)

const (
	noDescription = "No description available"
	noPrice       = "Contact for price"
)

// System composes the system instruction for one tenant. knowledgeContext is
// the assembled retrieval block; when empty, no knowledge section is emitted.
func System(t *store.Tenant, knowledgeContext string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a helpful, cheerful, and efficient AI assistant for %s.\n", t.Name)
	fmt.Fprintf(&sb, "Your personality and tone should be: %s.\n", t.Tone)
	fmt.Fprintf(&sb, "You MUST respond in this language: %s.\n", t.Language)
	sb.WriteString("\nYour primary tasks are to answer questions about the business, its services, and to help customers with inquiries like booking appointments.\n")
	sb.WriteString("Be concise, helpful, and stick to your role. Do not go off-topic or engage in casual conversation beyond what is necessary.\n")

	if len(t.Services) > 0 {
		sb.WriteString("\nHere is a list of services offered:\n")
		for _, svc := range t.Services {
			desc := svc.Description
			if desc == "" {
				desc = noDescription
			}
			price := svc.Price
			if price == "" {
				price = noPrice
			}
			fmt.Fprintf(&sb, "- %s: %s. Price: %s.\n", svc.Name, desc, price)
		}
	}

	if knowledgeContext != "" {
		sb.WriteString("\nHere is some additional information from the business's documents that might be relevant to the customer's question. Use it to provide a more accurate and detailed response. If the customer's question is answered here, prioritize this information.\n")
		sb.WriteString("---\n")
		sb.WriteString(knowledgeContext)
		sb.WriteString("\n---\n")
	}

	sb.WriteString("\nNow, please respond to the customer's message.")
	return sb.String()
}
