package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

// InputType is the format of the pitch being analysed
type InputType string

const (
	InputPDF   InputType = "pdf"
	InputEmail InputType = "email"
	InputAudio InputType = "audio"
	// InputText is deck text already extracted by the pipeline
	InputText InputType = "text"
)

// ParseInputType accepts the user-facing input types pdf, email and audio
func ParseInputType(s string) (InputType, error) {
	switch t := InputType(strings.ToLower(strings.TrimSpace(s))); t {
	case InputPDF, InputEmail, InputAudio:
		return t, nil
	case "":
		return InputPDF, nil
	}
	return "", apperr.Newf(apperr.CodeValidation, "unsupported input type %q", s)
}

// DeckInput is one pitch to analyse
type DeckInput struct {
	Content   []byte
	Filename  string
	MimeType  string
	InputType InputType
	Persona   model.Persona
	Weights   *model.ScoreWeightings
}

// Validate rejects empty content and a Custom persona without valid weights
func (in *DeckInput) Validate() error {
	if len(in.Content) == 0 {
		return apperr.New(apperr.CodeValidation, "pitch content is empty")
	}
	sel := model.PersonaSelection{Persona: in.Persona, Weights: in.Weights}
	if err := sel.Validate(); err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "invalid persona")
	}
	return nil
}

// ChatRequest is one question to the analyst assistant. History holds the
// earlier turns of the conversation.
type ChatRequest struct {
	Item             *model.HistoryItem
	FounderResponses []model.FounderResponse
	History          []model.ChatMessage
	Question         string
}

// Analyzer runs the analysis, chat, memo and question prompts
type Analyzer struct {
	completer Completer
	chatModel string
}

func NewAnalyzer(completer Completer, chatModel string) *Analyzer {
	return &Analyzer{completer: completer, chatModel: chatModel}
}

func wrapAI(err error) error {
	return apperr.Wrap(err, apperr.CodeAI, "AI request failed")
}

// AnalyzeDeck produces the structured analysis of one pitch
func (a *Analyzer) AnalyzeDeck(ctx context.Context, in DeckInput) (*model.PitchDeckAnalysis, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	parts := []Part{TextPart(deckPrompt(in.InputType))}
	switch in.InputType {
	case InputEmail, InputText:
		parts = append(parts, TextPart(string(in.Content)))
	case InputAudio:
		parts = append(parts, AudioPart(audioFormat(in.Filename, in.MimeType), base64.StdEncoding.EncodeToString(in.Content)))
	case InputPDF:
		name := in.Filename
		if name == "" {
			name = "deck.pdf"
		}
		parts = append(parts, FilePart(name, "application/pdf", base64.StdEncoding.EncodeToString(in.Content)))
	default:
		return nil, apperr.Newf(apperr.CodeValidation, "unsupported input type %q", in.InputType)
	}

	logger.Info(ctx, "analyzing pitch", "input_type", in.InputType, "persona", in.Persona, "bytes", len(in.Content))
	content, err := a.completer.Complete(ctx, CompletionRequest{
		System:   SystemInstruction(in.Persona, in.Weights),
		Messages: []Message{{Role: "user", Parts: parts}},
		Schema:   AnalysisSchema(),
	})
	if err != nil {
		return nil, wrapAI(err)
	}

	var analysis model.PitchDeckAnalysis
	if err := json.Unmarshal([]byte(cleanJSONContent(content)), &analysis); err != nil {
		return nil, wrapAI(fmt.Errorf("failed to parse analysis: %w", err))
	}
	if err := analysis.Validate(); err != nil {
		return nil, wrapAI(fmt.Errorf("incomplete analysis: %w", err))
	}
	return &analysis, nil
}

// audioFormat maps the upload to the wav or mp3 formats the API accepts
func audioFormat(filename, mimeType string) string {
	if strings.Contains(mimeType, "wav") || strings.EqualFold(filepath.Ext(filename), ".wav") {
		return "wav"
	}
	return "mp3"
}

// DetectInputType guesses the input type of an uploaded file
func DetectInputType(filename string, head []byte) InputType {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return InputPDF
	case ".mp3", ".wav", ".m4a":
		return InputAudio
	case ".txt", ".eml":
		return InputEmail
	}
	ct := http.DetectContentType(head)
	switch {
	case strings.Contains(ct, "pdf"):
		return InputPDF
	case strings.HasPrefix(ct, "audio/"):
		return InputAudio
	case strings.HasPrefix(ct, "text/"):
		return InputEmail
	}
	return InputPDF
}

// AssessRisk returns a free-text risk assessment of extracted deck text
func (a *Analyzer) AssessRisk(ctx context.Context, text string, persona model.Persona) (string, error) {
	out, err := a.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{TextMessage("user", riskPrompt(persona, text))},
	})
	if err != nil {
		return "", wrapAI(err)
	}
	return strings.TrimSpace(out), nil
}

// ExtractFinancials returns the key financial metrics found in deck text
func (a *Analyzer) ExtractFinancials(ctx context.Context, text string) (string, error) {
	out, err := a.completer.Complete(ctx, CompletionRequest{
		Messages: []Message{TextMessage("user", financialsPrompt(text))},
	})
	if err != nil {
		return "", wrapAI(err)
	}
	return strings.TrimSpace(out), nil
}

// Advise answers a question using only the analysis and founder responses
func (a *Analyzer) Advise(ctx context.Context, req ChatRequest) (string, error) {
	if !req.Item.HasAnalysis() {
		return "", apperr.New(apperr.CodeValidation, "no analysis loaded")
	}
	if strings.TrimSpace(req.Question) == "" {
		return "", apperr.New(apperr.CodeValidation, "question is empty")
	}

	analysisJSON, err := req.Item.ContextJSON()
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "failed to encode analysis")
	}

	var intro strings.Builder
	intro.WriteString(PersonaContext(req.Item.Persona, req.Item.CustomWeights))
	intro.WriteString(" Here is the analysis of a pitch deck I just reviewed. I'm going to ask you some questions about it.\n\nANALYSIS:\n")
	intro.WriteString(analysisJSON)
	if len(req.FounderResponses) > 0 {
		responses, _ := json.MarshalIndent(req.FounderResponses, "", "  ")
		intro.WriteString("\n\nI also have responses from the founder:\n")
		intro.Write(responses)
	}

	messages := []Message{
		TextMessage("user", intro.String()),
		TextMessage("assistant", assistantAck),
	}
	for _, m := range req.History {
		role := "user"
		if m.Role == model.RoleModel {
			role = "assistant"
		}
		messages = append(messages, TextMessage(role, m.Text))
	}
	messages = append(messages, TextMessage("user", req.Question))

	out, err := a.completer.Complete(ctx, CompletionRequest{
		Model:    a.chatModel,
		System:   assistantInstruction,
		Messages: messages,
	})
	if err != nil {
		return "", wrapAI(err)
	}
	return strings.TrimSpace(out), nil
}

// GenerateMemo writes a formal Markdown investment memo from the analysis
func (a *Analyzer) GenerateMemo(ctx context.Context, item *model.HistoryItem, founderResponses []model.FounderResponse) (string, error) {
	if item == nil || !item.HasAnalysis() {
		return "", apperr.New(apperr.CodeValidation, "no analysis loaded")
	}
	return a.Advise(ctx, ChatRequest{
		Item:             item,
		FounderResponses: founderResponses,
		Question:         memoQuestion(item.Persona),
	})
}

// SuggestQuestions proposes conversation starting points for the founder Q&A
func (a *Analyzer) SuggestQuestions(ctx context.Context, item *model.HistoryItem) ([]string, error) {
	if item == nil || !item.HasAnalysis() {
		return nil, apperr.New(apperr.CodeValidation, "no analysis loaded")
	}
	analysisJSON, err := item.ContextJSON()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to encode analysis")
	}

	out, err := a.completer.Complete(ctx, CompletionRequest{
		Model:    a.chatModel,
		Messages: []Message{TextMessage("user", questionsPrompt(analysisJSON, item.Persona))},
		Schema:   QuestionsSchema(),
	})
	if err != nil {
		return nil, wrapAI(err)
	}

	content := cleanJSONContent(out)
	if !gjson.Valid(content) {
		return nil, wrapAI(fmt.Errorf("invalid questions response"))
	}
	var questions []string
	for _, q := range gjson.Get(content, "questions").Array() {
		if s := strings.TrimSpace(q.String()); s != "" {
			questions = append(questions, s)
		}
	}
	return questions, nil
}
