package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"cna/internal/ingest"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   func(contents []*genai.Content) (string, error)
	calls   int
	configs []*genai.GenerateContentConfig
	models  []string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.calls++
	f.configs = append(f.configs, config)
	f.models = append(f.models, model)
	f.mu.Unlock()

	text, err := f.reply(contents)
	if err != nil {
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestModelComplete(t *testing.T) {
	gen := &fakeGenerator{reply: func([]*genai.Content) (string, error) { return "  analysis text \n", nil }}
	m := newModel(gen, Spec{Name: "gemini-2.5-pro", Temperature: 0.2, SystemInstruction: "be precise"}, WithModelLogger(quietLogger()))

	out, err := m.Complete(context.Background(), "analyse")
	require.NoError(t, err)
	assert.Equal(t, "analysis text", out)
	assert.Equal(t, []string{"gemini-2.5-pro"}, gen.models)
	require.NotNil(t, gen.configs[0].Temperature)
	assert.InDelta(t, 0.2, *gen.configs[0].Temperature, 1e-6)
	assert.NotNil(t, gen.configs[0].SystemInstruction)
}

func TestModelCompleteErrors(t *testing.T) {
	t.Run("collaborator error is wrapped", func(t *testing.T) {
		gen := &fakeGenerator{reply: func([]*genai.Content) (string, error) { return "", errors.New("quota") }}
		_, err := newModel(gen, Spec{Name: "m"}).Complete(context.Background(), "p")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota")
	})

	t.Run("no candidates is an error", func(t *testing.T) {
		_, err := responseText(&genai.GenerateContentResponse{})
		require.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("blocked prompt reports the reason", func(t *testing.T) {
		_, err := responseText(&genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blocked")
	})
}

func TestParseExtraction(t *testing.T) {
	doc, err := parseExtraction("```json\n" + `{"document_type": "生化检查", "patient_info": {"height_cm": "165cm", "weight_kg": null, "bmi": null}, "diagnoses": [], "lab_results": {"biochemistry": [{"name": "ALB", "value": 29.5, "unit": "g/L"}]}}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "生化检查", doc.DocumentType)
	assert.Equal(t, 165.0, doc.PatientInfo.HeightCM.Float())
	assert.Nil(t, doc.PatientInfo.WeightKG)
	assert.Equal(t, "29.5", string(doc.LabResults["biochemistry"][0].Value))

	doc, err = parseExtraction(`{"document_type": "会诊记录", "patient_info": {"weight_kg": "未测"}, "consultation_record": {"NRS2002_score": "未评估", "department": "营养科"}}`)
	require.NoError(t, err)
	assert.Nil(t, doc.PatientInfo.WeightKG)
	assert.Nil(t, doc.ConsultationRecord.NRS2002Score)
	assert.Equal(t, "营养科", *doc.ConsultationRecord.Department)

	_, err = parseExtraction("I cannot read this image")
	require.Error(t, err)
}

func TestRecognizerExtract(t *testing.T) {
	gen := &fakeGenerator{reply: func(contents []*genai.Content) (string, error) {
		parts := contents[0].Parts
		last := parts[len(parts)-1]
		if last.InlineData != nil {
			if string(last.InlineData.Data) == "bad" {
				return "", errors.New("image rejected")
			}
			return `{"document_type": "血常规", "patient_info": {"weight_kg": 52}, "diagnoses": [{"description": "贫血"}]}`, nil
		}
		if strings.Contains(last.Text, "consultation") {
			return `{"document_type": "会诊记录", "consultation_record": {"NRS2002_score": 4}, "diagnoses": [{"description": "贫血"}]}`, nil
		}
		return "", errors.New("unexpected part")
	}}
	r := newRecognizer(gen, Spec{Name: "gemini-2.5-flash"}, WithRecognizerLogger(quietLogger()), WithConcurrency(2))

	batch := ingest.Batch{
		Images: []ingest.Image{
			{Data: []byte("ok"), MIMEType: "image/png"},
			{Data: []byte("bad"), MIMEType: "image/png"},
		},
		FilePaths: []string{"/nonexistent/scan.jpg"},
		Text:      "consultation note",
	}
	result, err := r.Extract(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalImages)
	assert.Equal(t, 2, result.Successful)
	require.Len(t, result.Documents, 4)
	assert.True(t, result.Documents[0].Success)
	assert.Equal(t, 1, result.Documents[0].Index)
	assert.False(t, result.Documents[1].Success)
	assert.Contains(t, result.Documents[2].Error, "scan.jpg")
	assert.Equal(t, "会诊记录", result.Documents[3].DocumentType)

	assert.Equal(t, 52.0, result.Integrated.PatientInfo.WeightKG.Float())
	assert.Equal(t, 4.0, result.Integrated.ConsultationRecord.NRS2002Score.Float())
	assert.Len(t, result.Integrated.Diagnoses, 1)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, "application/json", gen.configs[0].ResponseMIMEType)
}

func TestRecognizerAllItemsFail(t *testing.T) {
	gen := &fakeGenerator{reply: func([]*genai.Content) (string, error) { return "no json here", nil }}
	r := newRecognizer(gen, Spec{Name: "m"}, WithRecognizerLogger(quietLogger()))

	_, err := r.Extract(context.Background(), ingest.Batch{Text: "note"})
	require.Error(t, err)

	_, err = r.Extract(context.Background(), ingest.Batch{})
	require.Error(t, err)
}
