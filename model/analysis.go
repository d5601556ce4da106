package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity of an identified risk
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Valid reports whether s is Low, Medium or High
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

type ExecutiveSummary struct {
	Summary    string   `json:"summary"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

type Risk struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Mitigation  string   `json:"mitigation"`
}

type RiskAssessment struct {
	Risks []Risk `json:"risks"`
}

type IndustryAnalysis struct {
	Benchmarking string   `json:"benchmarking"`
	Competitors  []string `json:"competitors"`
}

type Metric struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type FinancialAnalysis struct {
	KeyMetrics     []Metric `json:"keyMetrics"`
	FundingRequest string   `json:"fundingRequest"`
	Projections    string   `json:"projections"`
}

type FollowUpQuestions struct {
	Questions    []string `json:"questions"`
	FounderEmail string   `json:"founderEmail"`
}

// PitchDeckAnalysis is the structured result of analysing one deck
type PitchDeckAnalysis struct {
	ExecutiveSummary  ExecutiveSummary  `json:"executiveSummary"`
	RiskAssessment    RiskAssessment    `json:"riskAssessment"`
	IndustryAnalysis  IndustryAnalysis  `json:"industryAnalysis"`
	FinancialAnalysis FinancialAnalysis `json:"financialAnalysis"`
	FollowUpQuestions FollowUpQuestions `json:"followUpQuestions"`
}

// Validate rejects results missing the summary or carrying unknown severities
func (a *PitchDeckAnalysis) Validate() error {
	if strings.TrimSpace(a.ExecutiveSummary.Summary) == "" {
		return fmt.Errorf("executive summary is empty")
	}
	for i, r := range a.RiskAssessment.Risks {
		if !r.Severity.Valid() {
			return fmt.Errorf("risk %d has invalid severity %q", i, r.Severity)
		}
	}
	return nil
}

// Analysis map keys written to Deal.Analysis
const (
	SectionExecutiveSummary = "executive_summary"
	SectionRisk             = "risk"
	SectionIndustry         = "industry"
	SectionFinancials       = "financials"
	SectionFollowUp         = "follow_up"
)

// Sections flattens the analysis into the named text fields stored on a deal
func (a *PitchDeckAnalysis) Sections() map[string]string {
	var b strings.Builder
	out := make(map[string]string, 5)

	b.WriteString(a.ExecutiveSummary.Summary)
	writeList(&b, "Strengths", a.ExecutiveSummary.Strengths)
	writeList(&b, "Weaknesses", a.ExecutiveSummary.Weaknesses)
	out[SectionExecutiveSummary] = strings.TrimSpace(b.String())

	b.Reset()
	for _, r := range a.RiskAssessment.Risks {
		fmt.Fprintf(&b, "[%s] %s: %s\nMitigation: %s\n", r.Severity, r.Title, r.Description, r.Mitigation)
	}
	out[SectionRisk] = strings.TrimSpace(b.String())

	b.Reset()
	b.WriteString(a.IndustryAnalysis.Benchmarking)
	writeList(&b, "Competitors", a.IndustryAnalysis.Competitors)
	out[SectionIndustry] = strings.TrimSpace(b.String())

	b.Reset()
	for _, m := range a.FinancialAnalysis.KeyMetrics {
		fmt.Fprintf(&b, "%s: %s\n", m.Name, m.Value)
	}
	if a.FinancialAnalysis.FundingRequest != "" {
		fmt.Fprintf(&b, "Funding request: %s\n", a.FinancialAnalysis.FundingRequest)
	}
	if a.FinancialAnalysis.Projections != "" {
		fmt.Fprintf(&b, "Projections: %s\n", a.FinancialAnalysis.Projections)
	}
	out[SectionFinancials] = strings.TrimSpace(b.String())

	b.Reset()
	writeList(&b, "Questions", a.FollowUpQuestions.Questions)
	if a.FollowUpQuestions.FounderEmail != "" {
		fmt.Fprintf(&b, "\nFounder email: %s", a.FollowUpQuestions.FounderEmail)
	}
	out[SectionFollowUp] = strings.TrimSpace(b.String())

	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// FounderResponse is an answer recorded from the founder in Founder Connect
type FounderResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SectionStructured holds the JSON encoding of the full PitchDeckAnalysis
// when the pipeline produced one.
const SectionStructured = "structured"

// StructuredFromSections decodes the structured analysis stored on a deal, if any.
func StructuredFromSections(sections map[string]string) (*PitchDeckAnalysis, bool) {
	raw, ok := sections[SectionStructured]
	if !ok || raw == "" {
		return nil, false
	}
	var a PitchDeckAnalysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, false
	}
	return &a, true
}

// HistoryItem is one past analysis kept in the investor's workspace.
// Analysis is set for structured results; Sections carries the free-form
// fields of a pipeline-produced deal analysis.
type HistoryItem struct {
	ID            string             `json:"id"`
	DealID        string             `json:"dealId,omitempty"`
	FileName      string             `json:"fileName"`
	Persona       Persona            `json:"persona"`
	CustomWeights *ScoreWeightings   `json:"customWeights,omitempty"`
	Date          time.Time          `json:"date"`
	Analysis      *PitchDeckAnalysis `json:"analysis,omitempty"`
	Sections      map[string]string  `json:"sections,omitempty"`
}

// HasAnalysis reports whether the item carries any analysis content
func (h *HistoryItem) HasAnalysis() bool {
	return h != nil && (h.Analysis != nil || len(h.Sections) > 0)
}

// ContextJSON is the serialized analysis handed to the chat assistant
func (h *HistoryItem) ContextJSON() (string, error) {
	var v any = h.Sections
	if h.Analysis != nil {
		v = h.Analysis
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
