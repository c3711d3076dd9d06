package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnex/quantnex/internal/platform/db"
)

type pgRepo struct{ pool *pgxpool.Pool }

func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &pgRepo{pool: pool}
}

const alertCols = `id, patient_id, type, message, details, acknowledged, acknowledged_at, acknowledged_by, created_at, updated_at`

func (r *pgRepo) scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.PatientID, &a.Type, &a.Message, &a.Details, &a.Acknowledged,
		&a.AcknowledgedAt, &a.AcknowledgedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	return &a, nil
}

func (r *pgRepo) Create(ctx context.Context, a *Alert) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO alerts (patient_id, type, message, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		a.PatientID, a.Type, a.Message, a.Details,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *pgRepo) GetByID(ctx context.Context, id int64) (*Alert, error) {
	return r.scanAlert(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+alertCols+` FROM alerts WHERE id = $1`, id))
}

func (r *pgRepo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error) {
	return r.list(ctx, " WHERE patient_id = $1", []interface{}{patientID}, limit, offset)
}

func (r *pgRepo) List(ctx context.Context, f ListFilter) ([]*Alert, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Acknowledged != nil {
		args = append(args, *f.Acknowledged)
		where = append(where, fmt.Sprintf("acknowledged = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	return r.list(ctx, clause, args, f.Limit, f.Offset)
}

func (r *pgRepo) list(ctx context.Context, clause string, args []interface{}, limit, offset int) ([]*Alert, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM alerts%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		alertCols, clause, len(args)-1, len(args))
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	items := make([]*Alert, 0)
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *pgRepo) Acknowledge(ctx context.Context, id int64, by string, at time.Time) (*Alert, bool, error) {
	a, err := r.scanAlert(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE alerts SET acknowledged = TRUE, acknowledged_at = $2, acknowledged_by = $3, updated_at = NOW()
		WHERE id = $1 AND NOT acknowledged
		RETURNING `+alertCols, id, at, by))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	// Already acknowledged, or missing.
	a, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return a, false, nil
}

func (r *pgRepo) DeleteByPatient(ctx context.Context, patientID string) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM alerts WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("delete alerts: %w", err)
	}
	return nil
}

func (r *pgRepo) CountUnacknowledged(ctx context.Context) (int, error) {
	var n int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE NOT acknowledged`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}
