package repo

import (
	"context"
	"database/sql"

	"signflow/internal/domain"
)

func (r Repo) UpsertValueTx(ctx context.Context, tx *sql.Tx, v domain.FieldValue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO field_values(document_id,field_id,value,updated_by,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(document_id,field_id) DO UPDATE SET value=excluded.value, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		v.DocumentID, v.FieldID, v.Value, nullable(v.UpdatedBy), v.UpdatedAt)
	return err
}

func (r Repo) DeleteValueTx(ctx context.Context, tx *sql.Tx, documentID, fieldID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM field_values WHERE document_id=? AND field_id=?`, documentID, fieldID)
	return err
}

func scanValue(scan func(dest ...any) error) (domain.FieldValue, error) {
	var v domain.FieldValue
	var updatedBy sql.NullString
	err := scan(&v.DocumentID, &v.FieldID, &v.Value, &updatedBy, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if updatedBy.Valid {
		v.UpdatedBy = updatedBy.String
	}
	return v, nil
}

func (r Repo) GetValue(ctx context.Context, documentID, fieldID string) (domain.FieldValue, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT document_id,field_id,value,updated_by,updated_at FROM field_values WHERE document_id=? AND field_id=?`,
		documentID, fieldID)
	return scanValue(row.Scan)
}

func (r Repo) ListValues(ctx context.Context, documentID string) ([]domain.FieldValue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT document_id,field_id,value,updated_by,updated_at FROM field_values WHERE document_id=? ORDER BY field_id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FieldValue
	for rows.Next() {
		v, err := scanValue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
