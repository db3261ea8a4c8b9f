package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"cna/internal/provenance"
)

const schema = `
CREATE TABLE IF NOT EXISTS trace_records (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	stage        TEXT NOT NULL,
	data_type    TEXT NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	input_data   JSONB NOT NULL,
	output_data  JSONB NOT NULL,
	dependencies TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS trace_records_session_idx ON trace_records (session_id, recorded_at);
`

// Exporter writes trace records to the trace_records table as an audit trail.
// Sessions never read it back.
type Exporter struct {
	db *sql.DB
}

func New(db *sql.DB) *Exporter {
	return &Exporter{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open trace database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping trace database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the trace table if it does not exist.
func (e *Exporter) EnsureSchema(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create trace schema: %w", err)
	}
	return nil
}

// Export inserts the record. Re-exporting the same id is a no-op.
func (e *Exporter) Export(ctx context.Context, record provenance.Record) error {
	query := `
		INSERT INTO trace_records (id, session_id, stage, data_type, recorded_at, input_data, output_data, dependencies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	deps := record.Dependencies
	if deps == nil {
		deps = []string{}
	}
	_, err := e.db.ExecContext(ctx, query,
		record.ID,
		record.SessionID,
		record.Stage,
		record.DataType,
		record.Timestamp,
		jsonOrNull(record.Input),
		jsonOrNull(record.Output),
		pq.Array(deps),
	)
	if err != nil {
		return fmt.Errorf("export trace %s: %w", record.ID, err)
	}
	return nil
}

// ListSession returns a session's exported records in recording order.
func (e *Exporter) ListSession(ctx context.Context, sessionID string) ([]provenance.Record, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, session_id, stage, data_type, recorded_at, input_data, output_data, dependencies
		FROM trace_records
		WHERE session_id = $1
		ORDER BY recorded_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session traces: %w", err)
	}
	defer rows.Close()

	var out []provenance.Record
	for rows.Next() {
		var (
			r      provenance.Record
			input  []byte
			output []byte
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Stage, &r.DataType, &r.Timestamp, &input, &output, pq.Array(&r.Dependencies)); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		r.Input = input
		r.Output = output
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return out, nil
}

func jsonOrNull(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
