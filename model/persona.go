package model

import (
	"fmt"
	"strings"
)

// Persona is the investor viewpoint used to bias an analysis
type Persona string

const (
	PersonaSaaS     Persona = "SaaS VC"
	PersonaDeepTech Persona = "Deep Tech VC"
	PersonaFintech  Persona = "Fintech VC"
	PersonaCustom   Persona = "Custom"
)

// Personas lists the selectable personas in display order
var Personas = []Persona{PersonaSaaS, PersonaDeepTech, PersonaFintech, PersonaCustom}

// ParsePersona accepts the display label or the short keys saas, deeptech, fintech, custom.
func ParsePersona(s string) (Persona, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "saas vc", "saas":
		return PersonaSaaS, nil
	case "deep tech vc", "deeptech":
		return PersonaDeepTech, nil
	case "fintech vc", "fintech":
		return PersonaFintech, nil
	case "custom":
		return PersonaCustom, nil
	}
	return "", fmt.Errorf("unknown persona %q", s)
}

// WeightTotal is the sum custom weights must reach exactly
const WeightTotal = 100

// ScoreWeightings is the custom rubric; each factor is a percentage
type ScoreWeightings struct {
	TeamStrength      int `json:"teamStrength"`
	Traction          int `json:"traction"`
	FinancialHealth   int `json:"financialHealth"`
	MarketOpportunity int `json:"marketOpportunity"`
	ClaimCredibility  int `json:"claimCredibility"`
}

// DefaultWeightings splits the total evenly
func DefaultWeightings() ScoreWeightings {
	return ScoreWeightings{20, 20, 20, 20, 20}
}

// Sum returns the total of all five weights
func (w ScoreWeightings) Sum() int {
	return w.TeamStrength + w.Traction + w.FinancialHealth + w.MarketOpportunity + w.ClaimCredibility
}

// Validate requires every weight in [0,100] and a sum of exactly 100
func (w ScoreWeightings) Validate() error {
	for name, v := range w.fields() {
		if v < 0 || v > WeightTotal {
			return fmt.Errorf("%s weight %d out of range 0-100", name, v)
		}
	}
	if sum := w.Sum(); sum != WeightTotal {
		return fmt.Errorf("weights must total %d, got %d", WeightTotal, sum)
	}
	return nil
}

func (w ScoreWeightings) fields() map[string]int {
	return map[string]int{
		"team strength":      w.TeamStrength,
		"traction":           w.Traction,
		"financial health":   w.FinancialHealth,
		"market opportunity": w.MarketOpportunity,
		"claim credibility":  w.ClaimCredibility,
	}
}

// Describe renders the weights the way prompts present them
func (w ScoreWeightings) Describe() string {
	return fmt.Sprintf("Team Strength: %d%%, Traction: %d%%, Financial Health: %d%%, Market Opportunity: %d%%, Claim Credibility: %d%%",
		w.TeamStrength, w.Traction, w.FinancialHealth, w.MarketOpportunity, w.ClaimCredibility)
}

// PersonaSelection is a persona plus the weights required when it is Custom
type PersonaSelection struct {
	Persona Persona          `json:"persona"`
	Weights *ScoreWeightings `json:"weights,omitempty"`
}

// Validate checks that Custom carries valid weights
func (p PersonaSelection) Validate() error {
	if _, err := ParsePersona(string(p.Persona)); err != nil {
		return err
	}
	if p.Persona != PersonaCustom {
		return nil
	}
	if p.Weights == nil {
		return fmt.Errorf("custom persona requires weights")
	}
	return p.Weights.Validate()
}
