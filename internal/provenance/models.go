package provenance

import (
	"encoding/json"
	"time"
)

// Record is one immutable lineage entry. Input and Output are frozen as JSON at
// record time so later mutation of the source values cannot rewrite history.
type Record struct {
	ID           string          `json:"id"`
	Stage        string          `json:"stage"`
	DataType     string          `json:"data_type"`
	Timestamp    time.Time       `json:"timestamp"`
	Input        json.RawMessage `json:"input_data"`
	Output       json.RawMessage `json:"output_data"`
	Dependencies []string        `json:"dependencies"`
	SessionID    string          `json:"session_id"`
}

// Entry describes what a stage produced; the tracer turns it into a Record.
type Entry struct {
	Stage        string
	DataType     string
	Input        any
	Output       any
	Dependencies []string
}
