package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/session"
)

func TestAnalyzePDFWithWorkspacePersona(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	w := env.do(t, "POST", "/api/workspace/persona", token, map[string]any{"persona": "deeptech"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.upload(t, "/api/analyze", token, "acme.pdf", pdfContent, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Item      model.HistoryItem `json:"item"`
		Workspace session.State     `json:"workspace"`
	}
	decodeInto(t, w, &resp)
	assert.Equal(t, "acme.pdf", resp.Item.FileName)
	assert.Equal(t, model.PersonaDeepTech, resp.Item.Persona)
	require.NotNil(t, resp.Item.Analysis)
	assert.Equal(t, "Clinic payments platform", resp.Item.Analysis.ExecutiveSummary.Summary)
	assert.Equal(t, session.ViewViewing, resp.Workspace.View)
	assert.Equal(t, session.TabExecutiveSummary, resp.Workspace.Tab)
	require.Len(t, resp.Workspace.History, 1)

	reqs := env.completer.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].System, "persona of a Deep Tech VC")
	assert.Equal(t, "file", reqs[0].Messages[0].Parts[1].Type)
}

func TestAnalyzeEmailWithCustomWeights(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	w := env.upload(t, "/api/analyze", token, "", nil, map[string]string{
		"text":    "Subject: Acme seed round\n\nWe grew 3x last year.",
		"persona": "custom",
		"weights": `{"teamStrength":40,"traction":15,"financialHealth":15,"marketOpportunity":15,"claimCredibility":15}`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	reqs := env.completer.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].System, "- Team Strength: 40%")
	assert.Equal(t, "text", reqs[0].Messages[0].Parts[1].Type)

	ws, _ := env.sessions.Get(context.Background(), "u1")
	cur := ws.Current()
	require.NotNil(t, cur)
	assert.Equal(t, model.PersonaCustom, cur.Persona)
	assert.Equal(t, 40, cur.CustomWeights.TeamStrength)
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
	}{
		{"nothing to analyze", "", nil, nil},
		{"blank text", "", nil, map[string]string{"text": "   "}},
		{"unknown persona", "", nil, map[string]string{"text": "pitch", "persona": "angel"}},
		{"unknown input type", "acme.pdf", pdfContent, map[string]string{"input_type": "video"}},
		{"custom without weights", "", nil, map[string]string{"text": "pitch", "persona": "custom"}},
		{"custom weights not json", "", nil, map[string]string{"text": "pitch", "persona": "custom", "weights": "40,15"}},
		{"custom weights total 105", "", nil, map[string]string{
			"text": "pitch", "persona": "custom",
			"weights": `{"teamStrength":25,"traction":20,"financialHealth":20,"marketOpportunity":20,"claimCredibility":20}`,
		}},
		{"custom weights total 99", "", nil, map[string]string{
			"text": "pitch", "persona": "custom",
			"weights": `{"teamStrength":19,"traction":20,"financialHealth":20,"marketOpportunity":20,"claimCredibility":20}`,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			token := env.login(t)

			w := env.upload(t, "/api/analyze", token, tt.filename, tt.content, tt.fields)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["code"])

			assert.Empty(t, env.completer.Requests(), "no AI call for rejected input")
			ws, _ := env.sessions.Get(context.Background(), "u1")
			assert.Equal(t, session.ViewUpload, ws.View())
		})
	}
}

func TestAnalyzeAIFailureReturnsToUpload(t *testing.T) {
	env := newTestEnv(t)
	env.completer.Func = nil
	env.completer.Error = errors.New("quota exceeded")
	token := env.login(t)

	w := env.upload(t, "/api/analyze", token, "acme.pdf", pdfContent, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "AI_ERROR", decode(t, w)["code"])

	ws, _ := env.sessions.Get(context.Background(), "u1")
	s := ws.Snapshot()
	assert.Equal(t, session.ViewUpload, s.View)
	assert.Equal(t, "AI request failed", s.Error)
	assert.Empty(t, s.History)
}

func TestAnalyzeWhileViewingConflicts(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	w := env.upload(t, "/api/analyze", token, "acme.pdf", pdfContent, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.upload(t, "/api/analyze", token, "acme.pdf", pdfContent, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, env.completer.Requests(), 1)
}
