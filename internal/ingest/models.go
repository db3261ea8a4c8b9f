// Package ingest describes document and image ingestion: what goes in, what
// comes back, and how per-document extracts fold into one canonical record.
package ingest

import (
	"context"

	"cna/internal/patient"
)

// Stage and data type of the ingestion trace.
const (
	StageName = "ImageRecognizer"
	DataType  = "image_recognition"
)

// DocumentTypes lists the tags the extraction collaborator may assign.
var DocumentTypes = []string{
	"病历首页", "生化检查", "血常规", "大便常规", "会诊记录", "营养评估", "人体测量", "护理记录", "其他",
}

// OtherDocument is used when an extract carries no known document type.
const OtherDocument = "其他"

// Image is one binary image to extract from.
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	// Source names where the bytes came from, for diagnostics only.
	Source string `json:"source,omitempty"`
}

// Batch is the ingestion input: images, file references and optional raw text.
type Batch struct {
	Images    []Image  `json:"images,omitempty"`
	FilePaths []string `json:"file_paths,omitempty"`
	Text      string   `json:"text,omitempty"`
}

func (b Batch) Empty() bool {
	return len(b.Images) == 0 && len(b.FilePaths) == 0 && b.Text == ""
}

// Summary is what the ingestion trace records as input. Raw bytes are never traced.
type Summary struct {
	ImageCount int  `json:"image_count"`
	FileCount  int  `json:"file_count"`
	HasText    bool `json:"has_text"`
}

func (b Batch) Summary() Summary {
	return Summary{ImageCount: len(b.Images), FileCount: len(b.FilePaths), HasText: b.Text != ""}
}

// Document is the extraction result for one item of the batch.
type Document struct {
	Index        int             `json:"image_index"`
	DocumentType string          `json:"document_type,omitempty"`
	Data         *patient.Record `json:"extracted_data,omitempty"`
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
}

// Result is the per-item extraction plus the integrated record.
type Result struct {
	TotalImages   int             `json:"total_images"`
	Successful    int             `json:"successful_extractions"`
	DocumentTypes map[string]int  `json:"document_types"`
	Documents     []Document      `json:"individual_results"`
	Integrated    *patient.Record `json:"integrated_data"`
}

// Extractor is the ingestion collaborator.
type Extractor interface {
	Extract(ctx context.Context, batch Batch) (*Result, error)
}
