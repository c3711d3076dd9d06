package imaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnex/quantnex/internal/platform/db"
)

type pgRepo struct{ pool *pgxpool.Pool }

func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &pgRepo{pool: pool}
}

const scanCols = `id, patient_id, scan_type, file_name, file_ref, file_url, content_type, size, sha256,
	tumor_detected, tumor_size, tumor_location, malignancy_score, notes, uploaded_by, created_at, updated_at`

func (r *pgRepo) scanRow(row pgx.Row) (*Scan, error) {
	var s Scan
	err := row.Scan(&s.ID, &s.PatientID, &s.ScanType, &s.FileName, &s.FileRef, &s.FileURL,
		&s.ContentType, &s.Size, &s.SHA256, &s.TumorDetected, &s.TumorSize, &s.TumorLocation,
		&s.MalignancyScore, &s.Notes, &s.UploadedBy, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan imaging row: %w", err)
	}
	return &s, nil
}

func (r *pgRepo) Create(ctx context.Context, s *Scan) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO scans (patient_id, scan_type, file_name, file_ref, file_url, content_type, size, sha256,
			tumor_detected, tumor_size, tumor_location, malignancy_score, notes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`,
		s.PatientID, s.ScanType, s.FileName, s.FileRef, s.FileURL, s.ContentType, s.Size, s.SHA256,
		s.TumorDetected, s.TumorSize, s.TumorLocation, s.MalignancyScore, s.Notes, s.UploadedBy,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

func (r *pgRepo) GetByID(ctx context.Context, id int64) (*Scan, error) {
	return r.scanRow(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+scanCols+` FROM scans WHERE id = $1`, id))
}

func (r *pgRepo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Scan, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM scans WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scans: %w", err)
	}
	rows, err := conn.Query(ctx, `SELECT `+scanCols+` FROM scans WHERE patient_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()
	items := make([]*Scan, 0)
	for rows.Next() {
		s, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *pgRepo) DeleteByPatient(ctx context.Context, patientID string) ([]string, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `DELETE FROM scans WHERE patient_id = $1 RETURNING file_ref`, patientID)
	if err != nil {
		return nil, fmt.Errorf("delete scans: %w", err)
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan file ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *pgRepo) CountTumorDetected(ctx context.Context) (int, error) {
	var n int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM scans WHERE tumor_detected`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tumor scans: %w", err)
	}
	return n, nil
}
