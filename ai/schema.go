package ai

import "sort"

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func strEnum(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func arr(description string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "description": description, "items": items}
}

// obj builds a strict object: every property required, nothing extra
func obj(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sort.Strings(required)
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// AnalysisSchema is the response format for AnalyzeDeck. Field names match
// model.PitchDeckAnalysis.
func AnalysisSchema() *JSONSchema {
	return &JSONSchema{
		Name:   "pitch_deck_analysis",
		Strict: true,
		Schema: obj(map[string]any{
			"executiveSummary": obj(map[string]any{
				"summary":    str("A concise executive summary of the business and investment opportunity."),
				"strengths":  arr("Key strengths of the startup.", str("A strength.")),
				"weaknesses": arr("Key weaknesses or areas of concern.", str("A weakness.")),
			}),
			"riskAssessment": obj(map[string]any{
				"risks": arr("Identified risks.", obj(map[string]any{
					"title":       str("Short title of the risk."),
					"description": str("A detailed description of the risk."),
					"severity":    strEnum("The severity of the risk.", "Low", "Medium", "High"),
					"mitigation":  str("A potential strategy to mitigate this risk."),
				})),
			}),
			"industryAnalysis": obj(map[string]any{
				"benchmarking": str("How the company compares to industry benchmarks and trends."),
				"competitors":  arr("Key competitors.", str("A competitor.")),
			}),
			"financialAnalysis": obj(map[string]any{
				"keyMetrics": arr("Key financial metrics mentioned in the deck.", obj(map[string]any{
					"name":  str("The name of the financial metric (e.g., ARR, CAC, LTV)."),
					"value": str("The value of the metric."),
				})),
				"fundingRequest": str("The amount of funding requested and the stated use of funds."),
				"projections":    str("An analysis of the financial projections provided."),
			}),
			"followUpQuestions": obj(map[string]any{
				"questions":    arr("3-5 critical follow-up questions for the founders.", str("A question.")),
				"founderEmail": str("The founders' contact email if present in the deck, otherwise an empty string."),
			}),
		}),
	}
}

// QuestionsSchema is the response format for SuggestQuestions
func QuestionsSchema() *JSONSchema {
	return &JSONSchema{
		Name:   "conversation_starting_points",
		Strict: true,
		Schema: obj(map[string]any{
			"questions": arr("Suggested questions for the founder.", str("A question.")),
		}),
	}
}
