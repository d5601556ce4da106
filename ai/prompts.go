package ai

import (
	"fmt"
	"strings"

	"github.com/Sonket19/AI-Pitch-Lens/model"
)

const analystInstruction = `You are a world-class startup analyst. Your task is to meticulously analyze the provided pitch deck and produce a structured investment analysis. Adhere strictly to the JSON schema provided. Be critical, insightful, and objective. Identify both the good and the bad. If information for a field is not present in the deck, state that explicitly in the analysis for that field (e.g., "Financial projections were not detailed in the provided slides."). Do not make up data.`

const assistantInstruction = `You are an expert AI assistant for a startup analyst. Your role is to answer questions based only on the provided pitch deck analysis and founder responses. Do not hallucinate or invent information not present in the provided context. Be concise and helpful.`

const assistantAck = `Understood. I have reviewed the analysis of the pitch deck. I am ready to answer your questions from the perspective of a helpful AI analyst assistant. How can I help you?`

// SystemInstruction builds the analysis instruction for a persona. Custom
// personas carry their weightings; the others get a focus hint.
func SystemInstruction(persona model.Persona, weights *model.ScoreWeightings) string {
	var b strings.Builder
	b.WriteString(analystInstruction)
	if persona == model.PersonaCustom && weights != nil {
		b.WriteString("\n\nYou MUST tailor your analysis and risk assessment based on the following factor weightings. These percentages reflect the importance I place on each category:\n")
		fmt.Fprintf(&b, "- Team Strength: %d%%\n", weights.TeamStrength)
		fmt.Fprintf(&b, "- Traction: %d%%\n", weights.Traction)
		fmt.Fprintf(&b, "- Financial Health: %d%%\n", weights.FinancialHealth)
		fmt.Fprintf(&b, "- Market Opportunity: %d%%\n", weights.MarketOpportunity)
		fmt.Fprintf(&b, "- Claim Credibility: %d%%\n", weights.ClaimCredibility)
		b.WriteString("Your final summary and the severity of identified risks should heavily reflect this custom weighting.")
		return b.String()
	}
	fmt.Fprintf(&b, "\nYou are acting with the persona of a %s. Tailor your focus accordingly. For example, a SaaS VC would focus heavily on metrics like ARR and churn, while a Deep Tech VC would focus on IP and technical defensibility.", persona)
	return b.String()
}

// PersonaContext is how the investor introduces themselves to the assistant
func PersonaContext(persona model.Persona, weights *model.ScoreWeightings) string {
	if persona == model.PersonaCustom && weights != nil {
		return fmt.Sprintf("I am analyzing this deck with a custom focus, weighted as follows: %s.", weights.Describe())
	}
	return fmt.Sprintf("I am a %s.", persona)
}

func deckPrompt(inputType InputType) string {
	switch inputType {
	case InputEmail:
		return "Analyze the following pitch, received as an email, and produce the structured investment analysis."
	case InputAudio:
		return "Analyze the attached recorded pitch and produce the structured investment analysis."
	default:
		return "Analyze the attached pitch deck and produce the structured investment analysis."
	}
}

func riskPrompt(persona model.Persona, text string) string {
	return fmt.Sprintf(`You are an expert risk assessment analyst specializing in startup pitch decks, reviewing from the perspective of a %s.
Identify the key risks, describe each in detail, suggest a mitigation strategy and rate its severity as Low, Medium, or High.

Pitch deck text:
%s`, persona, text)
}

func financialsPrompt(text string) string {
	return "Extract the key financial metrics (revenue, growth, burn, runway, unit economics, funding request) from this pitch deck text. Say explicitly when a metric is not present.\n\n" + text
}

func memoQuestion(persona model.Persona) string {
	return fmt.Sprintf("Based on the provided pitch deck analysis, which was conducted from the perspective of a %s, write a formal investment memo. The memo should be well-structured, clear, and concise. It should include sections for: 1. Executive Summary, 2. Problem & Solution, 3. Market Opportunity, 4. Team, 5. Financials, 6. Risks, and 7. Recommendation. Format the output in Markdown.", persona)
}

func questionsPrompt(analysisJSON string, persona model.Persona) string {
	return fmt.Sprintf(`You are an AI assistant helping an investor prepare for a Q&A session with a startup founder.
Based on the pitch deck analysis, suggest relevant and insightful conversation starting points.

Analysis: %s
Persona: %s

Respond with a JSON object with a "questions" field, an array of strings, each one question.`, analysisJSON, persona)
}
