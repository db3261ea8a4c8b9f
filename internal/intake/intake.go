// Package intake decodes the single JSON document accepted at the process
// boundary into a pipeline request.
package intake

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cna/internal/ingest"
	"cna/internal/patient"
	"cna/internal/pipeline"
	dErrors "cna/pkg/domain-errors"
)

// MaxInputBytes bounds the document read from stdin or a request body.
const MaxInputBytes = 32 << 20

const (
	keyPatientData = "patientData"
	keyImageData   = "imageData"
)

// imageData is the ingestion half of the envelope form.
type imageData struct {
	Images    []string `json:"images"`
	FilePaths []string `json:"file_paths"`
	Text      string   `json:"text"`
}

// Decode accepts three shapes: a patient object, a list of per-document
// extracts (consolidated into one record) or {patientData, imageData}.
// Every failure carries dErrors.CodeInputFormat.
func Decode(r io.Reader) (pipeline.Request, error) {
	data, err := readInput(r)
	if err != nil {
		return pipeline.Request{}, err
	}

	switch data[0] {
	case '[':
		var docs []patient.RawDocument
		if err := json.Unmarshal(data, &docs); err != nil {
			return pipeline.Request{}, dErrors.Wrap(err, dErrors.CodeInputFormat, "decode document list")
		}
		return pipeline.Request{Record: patient.Consolidate(docs)}, nil
	case '{':
		return decodeObject(data)
	default:
		return pipeline.Request{}, dErrors.New(dErrors.CodeInputFormat,
			"invalid patient data format: expected a JSON object or a list of documents")
	}
}

// DecodeBatch reads an ingestion-only document: either the imageData object
// itself or an envelope carrying it under "imageData". An empty batch is an
// input error.
func DecodeBatch(r io.Reader) (ingest.Batch, error) {
	data, err := readInput(r)
	if err != nil {
		return ingest.Batch{}, err
	}
	if data[0] != '{' {
		return ingest.Batch{}, dErrors.New(dErrors.CodeInputFormat, "invalid image data format: expected a JSON object")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return ingest.Batch{}, dErrors.Wrap(err, dErrors.CodeInputFormat, "decode input")
	}
	if inner, ok := top[keyImageData]; ok {
		if isNull(inner) {
			return ingest.Batch{}, dErrors.New(dErrors.CodeInputFormat, "imageData is null")
		}
		data = inner
	}
	var images imageData
	if err := json.Unmarshal(data, &images); err != nil {
		return ingest.Batch{}, dErrors.Wrap(err, dErrors.CodeInputFormat, "decode imageData")
	}
	batch, err := images.batch()
	if err != nil {
		return ingest.Batch{}, err
	}
	if batch.Empty() {
		return ingest.Batch{}, dErrors.New(dErrors.CodeInputFormat, "no images, files or text to recognize")
	}
	return batch, nil
}

func readInput(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInputBytes+1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInputFormat, "read input")
	}
	if len(data) > MaxInputBytes {
		return nil, dErrors.New(dErrors.CodeInputFormat, "input exceeds size limit")
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, dErrors.New(dErrors.CodeInputFormat, "no input data received")
	}
	return data, nil
}

func decodeObject(data []byte) (pipeline.Request, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return pipeline.Request{}, dErrors.Wrap(err, dErrors.CodeInputFormat, "decode input")
	}
	patientRaw, hasPatient := top[keyPatientData]
	imageRaw, hasImages := top[keyImageData]
	if !hasPatient || !hasImages {
		record, err := decodeRecord(data)
		if err != nil {
			return pipeline.Request{}, err
		}
		return pipeline.Request{Record: record}, nil
	}

	record, err := decodeRecord(patientRaw)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{Record: record}
	if isNull(imageRaw) {
		return req, nil
	}
	var images imageData
	if err := json.Unmarshal(imageRaw, &images); err != nil {
		return pipeline.Request{}, dErrors.Wrap(err, dErrors.CodeInputFormat, "decode imageData")
	}
	batch, err := images.batch()
	if err != nil {
		return pipeline.Request{}, err
	}
	if !batch.Empty() {
		req.Ingestion = &batch
	}
	return req, nil
}

func decodeRecord(raw json.RawMessage) (*patient.Record, error) {
	if isNull(raw) {
		return nil, dErrors.New(dErrors.CodeInputFormat, "patient data is null")
	}
	var record patient.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInputFormat, "decode patient data")
	}
	return &record, nil
}

func (d imageData) batch() (ingest.Batch, error) {
	b := ingest.Batch{FilePaths: d.FilePaths, Text: d.Text}
	for i, s := range d.Images {
		img, err := DecodeImage(s)
		if err != nil {
			return ingest.Batch{}, dErrors.Wrap(err, dErrors.CodeInputFormat, fmt.Sprintf("imageData.images[%d]", i))
		}
		img.Source = fmt.Sprintf("images[%d]", i)
		b.Images = append(b.Images, img)
	}
	return b, nil
}

// DecodeImage accepts raw base64 or a data URL ("data:image/png;base64,...").
func DecodeImage(s string) (ingest.Image, error) {
	s = strings.TrimSpace(s)
	mime := ""
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return ingest.Image{}, fmt.Errorf("unsupported data URL")
		}
		mime = strings.TrimSuffix(header, ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ingest.Image{}, fmt.Errorf("decode base64 image: %w", err)
	}
	if len(data) == 0 {
		return ingest.Image{}, fmt.Errorf("empty image")
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return ingest.Image{Data: data, MIMEType: mime}, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
