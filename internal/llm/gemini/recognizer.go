package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"cna/internal/ingest"
	"cna/internal/llm"
	"cna/internal/patient"
)

const extractionPrompt = `You are a clinical data extraction assistant. Analyse the supplied medical document and return
structured JSON input for a clinical nutrition assessment. Focus on nutritional status,
inflammation, disease metabolism, dietary intake and treatment.

Rules:
1. Output exactly one JSON object with the structure below. Keep every field; use null for
   scalars and [] for lists that are not present in the document.
2. Extract only what the document states. Do not compute values (for example BMI), summarise or
   infer. Numbers must match the source exactly.

{
  "document_type": "<one of: %s>",
  "patient_info": {"height_cm": <number>, "weight_kg": <number>, "bmi": <number>},
  "diagnoses": [{"type": "<diagnosis type>", "description": "<diagnosis>"}],
  "symptoms_and_history": {"chief_complaint": "<text>", "history_of_present_illness_summary": "<text focusing on digestive symptoms, appetite and weight change>"},
  "lab_results": {
    "biochemistry": [{"name": "<name>", "value": "<value>", "unit": "<unit>", "interpretation": "<arrow or conclusion>"}],
    "complete_blood_count": [{"name": "<name>", "value": "<value>", "unit": "<unit>", "interpretation": "<arrow or conclusion>"}],
    "stool_routine": [{"name": "<name>", "value": "<result>", "interpretation": "<arrow or conclusion>"}]
  },
  "treatment_plan": {"summary": "<text>", "key_medications": ["<drug>"]},
  "consultation_record": {"department": "<text>", "purpose": "<text>", "findings_and_conclusion": "<text>", "recommendations": "<text>", "NRS2002_score": <number>, "PES_statement_summary": "<text>"}
}

Biochemistry must include ALB, TP, ALT, CREA, UREA, GLU, CRP, TG and CHOL, plus PA when present.
Blood count must include WBC, NEUT#, LYM#, HGB, RBC and PLT. Put any height, weight or BMI
mentioned in a record into patient_info, list every diagnosis, and take the NRS2002 score and
nutrition support advice from consultation records.

Return only the JSON object without commentary or code fences.`

// DefaultConcurrency bounds parallel extraction calls.
const DefaultConcurrency = 4

// Recognizer extracts canonical records from document images and raw text.
type Recognizer struct {
	gen         generator
	spec        Spec
	concurrency int
	logger      *slog.Logger
}

type RecognizerOption func(*Recognizer)

func WithRecognizerLogger(logger *slog.Logger) RecognizerOption {
	return func(r *Recognizer) {
		r.logger = logger
	}
}

func WithConcurrency(n int) RecognizerOption {
	return func(r *Recognizer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewRecognizer(client *genai.Client, spec Spec, opts ...RecognizerOption) *Recognizer {
	return newRecognizer(client.Models, spec, opts...)
}

func newRecognizer(gen generator, spec Spec, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{gen: gen, spec: spec, concurrency: DefaultConcurrency, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type item struct {
	image *ingest.Image
	text  string
	err   error
}

// Extract processes every image, file and the raw text as separate items. It
// fails only when the batch is empty or every item failed; partial failures are
// reported per document.
func (r *Recognizer) Extract(ctx context.Context, batch ingest.Batch) (*ingest.Result, error) {
	items := r.items(batch)
	if len(items) == 0 {
		return nil, errors.New("ingestion batch is empty")
	}

	start := time.Now()
	docs := make([]ingest.Document, len(items))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, it := range items {
		g.Go(func() error {
			docs[i] = r.extractOne(ctx, i+1, it)
			return nil
		})
	}
	_ = g.Wait()

	result := ingest.NewResult(docs)
	r.logger.InfoContext(ctx, "ingestion complete",
		"items", result.TotalImages,
		"successful", result.Successful,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if result.Successful == 0 {
		return nil, fmt.Errorf("all %d ingestion items failed: %s", len(docs), docs[0].Error)
	}
	return result, nil
}

func (r *Recognizer) items(batch ingest.Batch) []item {
	var items []item
	for i := range batch.Images {
		items = append(items, item{image: &batch.Images[i]})
	}
	for _, path := range batch.FilePaths {
		img, err := ingest.LoadFile(path)
		if err != nil {
			items = append(items, item{err: err})
			continue
		}
		items = append(items, item{image: &img})
	}
	if strings.TrimSpace(batch.Text) != "" {
		items = append(items, item{text: batch.Text})
	}
	return items
}

func (r *Recognizer) extractOne(ctx context.Context, index int, it item) ingest.Document {
	doc := ingest.Document{Index: index}
	extracted, err := r.extract(ctx, it)
	if err != nil {
		r.logger.WarnContext(ctx, "ingestion item failed", "index", index, "error", err)
		doc.Error = err.Error()
		return doc
	}
	doc.DocumentType = extracted.DocumentType
	doc.Data = &extracted.Record
	doc.Success = true
	return doc
}

func (r *Recognizer) extract(ctx context.Context, it item) (extractedDocument, error) {
	if it.err != nil {
		return extractedDocument{}, it.err
	}
	parts := []*genai.Part{genai.NewPartFromText(fmt.Sprintf(extractionPrompt, strings.Join(ingest.DocumentTypes, ", ")))}
	if it.image != nil {
		parts = append(parts, genai.NewPartFromBytes(it.image.Data, it.image.MIMEType))
	} else {
		parts = append(parts, genai.NewPartFromText("Document text:\n"+it.text))
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(r.spec.Temperature),
		ResponseMIMEType: "application/json",
	}

	resp, err := r.gen.GenerateContent(ctx, r.spec.Name, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return extractedDocument{}, fmt.Errorf("gemini %s: %w", r.spec.Name, err)
	}
	text, err := responseText(resp)
	if err != nil {
		return extractedDocument{}, err
	}
	return parseExtraction(text)
}

type extractedDocument struct {
	DocumentType string `json:"document_type"`
	patient.Record
}

func parseExtraction(text string) (extractedDocument, error) {
	var lastErr error = errors.New("reply contains no JSON object")
	for _, candidate := range llm.JSONObjects(text) {
		var doc extractedDocument
		if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
			lastErr = fmt.Errorf("decode extraction: %w", err)
			continue
		}
		return doc, nil
	}
	return extractedDocument{}, lastErr
}
