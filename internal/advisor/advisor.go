package advisor

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"cardwise-api/internal/models"
)

const systemPrompt = `You are a credit card advisor for a card comparison website.
Answer questions about credit cards, reward categories, and which card to use
for a purchase. Be concise and practical. When the user's saved cards are
listed, prefer recommendations drawn from those cards. Do not give legal,
tax, or credit repair advice.`

// Advisor answers card questions through a hosted model. A nil Advisor
// is valid and reports itself as disabled.
type Advisor struct {
	client *genai.Client
	model  string
}

// New creates an advisor backed by the Gemini API. Returns nil when no
// API key is configured; callers treat a nil advisor as disabled.
func New(ctx context.Context, apiKey, model string) (*Advisor, error) {
	if apiKey == "" {
		return nil, nil
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Advisor{client: client, model: model}, nil
}

// Enabled reports whether the advisor can answer requests.
func (a *Advisor) Enabled() bool {
	return a != nil && a.client != nil
}

// Ask sends the user's message to the model along with their saved cards
// as context and returns the model's answer.
func (a *Advisor) Ask(ctx context.Context, message string, ownedCards []models.OwnedCard) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("advisor is not configured")
	}

	prompt := buildPrompt(message, ownedCards)
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	result, err := a.client.Models.GenerateContent(ctx, a.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	answer := strings.TrimSpace(result.Text())
	if answer == "" {
		return "", fmt.Errorf("no answer returned")
	}
	return answer, nil
}

func buildPrompt(message string, ownedCards []models.OwnedCard) string {
	var b strings.Builder
	if len(ownedCards) > 0 {
		b.WriteString("The user's saved cards:\n")
		for _, oc := range ownedCards {
			fmt.Fprintf(&b, "- %s (%s)", oc.Card.Name, oc.Card.Issuer)
			if oc.BestReward != "" {
				fmt.Fprintf(&b, ", best reward: %s", oc.BestReward)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(message)
	return b.String()
}
