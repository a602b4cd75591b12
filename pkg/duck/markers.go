package duck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const MetaSchema = "_meta"

// MarkersRelation records the last successful build of every stage.
var MarkersRelation = Relation{Schema: MetaSchema, Table: "build_markers"}

// BuildMarker records that a stage's relation was built from inputs whose
// fingerprint is Fingerprint.
type BuildMarker struct {
	Stage       string
	Relation    string
	Fingerprint string
	RowCount    int64
	RunID       string
	BuiltAt     time.Time
}

func EnsureMarkers(ctx context.Context, conn Connection) error {
	if err := EnsureSchema(ctx, conn, MetaSchema); err != nil {
		return err
	}
	_, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+MarkersRelation.String()+` (
		stage VARCHAR PRIMARY KEY,
		relation VARCHAR,
		fingerprint VARCHAR,
		row_count BIGINT,
		run_id VARCHAR,
		built_at TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create build markers table: %w", err)
	}
	return nil
}

// GetMarker returns the marker for stage, or nil if the stage has never been
// built.
func GetMarker(ctx context.Context, conn Connection, stage string) (*BuildMarker, error) {
	if err := EnsureMarkers(ctx, conn); err != nil {
		return nil, err
	}
	var m BuildMarker
	err := conn.QueryRowContext(ctx,
		`SELECT stage, relation, fingerprint, row_count, run_id, built_at FROM `+MarkersRelation.String()+` WHERE stage = ?`,
		stage,
	).Scan(&m.Stage, &m.Relation, &m.Fingerprint, &m.RowCount, &m.RunID, &m.BuiltAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read build marker for %s: %w", stage, err)
	}
	return &m, nil
}

func PutMarker(ctx context.Context, conn Connection, m BuildMarker) error {
	if err := EnsureMarkers(ctx, conn); err != nil {
		return err
	}
	_, err := conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+MarkersRelation.String()+` (stage, relation, fingerprint, row_count, run_id, built_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.Stage, m.Relation, m.Fingerprint, m.RowCount, m.RunID, m.BuiltAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write build marker for %s: %w", m.Stage, err)
	}
	return nil
}

// ListMarkers returns all markers ordered by stage name.
func ListMarkers(ctx context.Context, conn Connection) ([]BuildMarker, error) {
	if err := EnsureMarkers(ctx, conn); err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx,
		`SELECT stage, relation, fingerprint, row_count, run_id, built_at FROM `+MarkersRelation.String()+` ORDER BY stage`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list build markers: %w", err)
	}
	defer rows.Close()

	var markers []BuildMarker
	for rows.Next() {
		var m BuildMarker
		if err := rows.Scan(&m.Stage, &m.Relation, &m.Fingerprint, &m.RowCount, &m.RunID, &m.BuiltAt); err != nil {
			return nil, fmt.Errorf("failed to scan build marker: %w", err)
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// DeleteMarker removes the marker for stage. Deleting a marker that does not
// exist is not an error.
func DeleteMarker(ctx context.Context, conn Connection, stage string) error {
	if err := EnsureMarkers(ctx, conn); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM `+MarkersRelation.String()+` WHERE stage = ?`, stage); err != nil {
		return fmt.Errorf("failed to delete build marker for %s: %w", stage, err)
	}
	return nil
}
