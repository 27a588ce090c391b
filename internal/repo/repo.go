package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"signflow/internal/config"
	"signflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- accounts ---

func (r Repo) EnsureAccount(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO accounts(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		id, nullable(name), now)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM accounts WHERE id=?`, id).
		Scan(&a.ID, &name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if name.Valid {
		a.Name = name.String
	}
	return a, err
}

// SingleAccount returns the account when exactly one exists.
func (r Repo) SingleAccount(ctx context.Context) (domain.Account, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM accounts LIMIT 2`)
	if err != nil {
		return domain.Account{}, err
	}
	defer rows.Close()
	var found []domain.Account
	for rows.Next() {
		var a domain.Account
		var name sql.NullString
		if err := rows.Scan(&a.ID, &name, &a.CreatedAt); err != nil {
			return domain.Account{}, err
		}
		if name.Valid {
			a.Name = name.String
		}
		found = append(found, a)
	}
	if err := rows.Err(); err != nil {
		return domain.Account{}, err
	}
	if len(found) != 1 {
		return domain.Account{}, ErrNotFound
	}
	return found[0], nil
}

func (r Repo) UpsertAccountConfig(ctx context.Context, accountID string, cfg *config.Config) error {
	return upsertAccountConfig(ctx, r.DB, nil, accountID, cfg)
}

func (r Repo) UpsertAccountConfigTx(ctx context.Context, tx *sql.Tx, accountID string, cfg *config.Config) error {
	return upsertAccountConfig(ctx, nil, tx, accountID, cfg)
}

func upsertAccountConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, accountID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Account.ID = accountID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO account_configs(account_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(account_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, accountID, string(payload), now, now)
	return err
}

func (r Repo) GetAccountConfig(ctx context.Context, accountID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM account_configs WHERE account_id=?`, accountID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Account.ID == "" {
		cfg.Account.ID = accountID
	}
	return &cfg, cfg.Validate()
}

// --- documents ---

const documentCols = `id,owner_id,title,status,workflow_type,expires_at,send_at,reminders_enabled,reminder_offsets_json,completed_at,created_at,updated_at`

func scanDocument(scan func(dest ...any) error) (domain.Document, error) {
	var d domain.Document
	var expires, sendAt, offsets, completed sql.NullString
	var enabled int
	err := scan(&d.ID, &d.OwnerID, &d.Title, &d.Status, &d.WorkflowType, &expires, &sendAt, &enabled, &offsets, &completed, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.ExpiresAt = optional(expires)
	d.SendAt = optional(sendAt)
	d.CompletedAt = optional(completed)
	d.Reminders.Enabled = enabled != 0
	if offsets.Valid && offsets.String != "" {
		_ = json.Unmarshal([]byte(offsets.String), &d.Reminders.DayOffsets)
	}
	return d, nil
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, accountID string, d domain.Document) error {
	offsets, err := marshalOrNil(d.Reminders.DayOffsets)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO documents(id,account_id,owner_id,title,status,workflow_type,expires_at,send_at,reminders_enabled,reminder_offsets_json,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, accountID, d.OwnerID, d.Title, d.Status, d.WorkflowType, optString(d.ExpiresAt), optString(d.SendAt),
		boolInt(d.Reminders.Enabled), offsets, optString(d.CompletedAt), d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) UpdateDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	offsets, err := marshalOrNil(d.Reminders.DayOffsets)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE documents SET title=?,status=?,workflow_type=?,expires_at=?,send_at=?,reminders_enabled=?,reminder_offsets_json=?,completed_at=?,updated_at=? WHERE id=?`,
		d.Title, d.Status, d.WorkflowType, optString(d.ExpiresAt), optString(d.SendAt),
		boolInt(d.Reminders.Enabled), offsets, optString(d.CompletedAt), d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDocumentTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListDocuments(ctx context.Context, accountID, status string, limit int) ([]domain.Document, error) {
	clauses := []string{"account_id=?"}
	args := []any{accountID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + documentCols + ` FROM documents WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListScheduledDue returns scheduled documents whose send time has passed.
func (r Repo) ListScheduledDue(ctx context.Context, now string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentCols+` FROM documents WHERE status=? AND send_at IS NOT NULL AND send_at<=?`,
		domain.DocumentScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- signers ---

const signerCols = `id,document_id,email,name,signing_order,status,access_token,signed_at,decline_reason,origin_ip,origin_user_agent,reminder_count,last_reminder_sent_at,created_at,updated_at`

func scanSigner(scan func(dest ...any) error) (domain.Signer, error) {
	var s domain.Signer
	var name, signedAt, reason, ip, ua, lastReminder sql.NullString
	var order sql.NullInt64
	err := scan(&s.ID, &s.DocumentID, &s.Email, &name, &order, &s.Status, &s.AccessToken,
		&signedAt, &reason, &ip, &ua, &s.ReminderCount, &lastReminder, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if name.Valid {
		s.Name = name.String
	}
	if order.Valid {
		n := int(order.Int64)
		s.SigningOrder = &n
	}
	s.SignedAt = optional(signedAt)
	s.DeclineReason = optional(reason)
	s.OriginIP = optional(ip)
	s.OriginUserAgent = optional(ua)
	s.LastReminderSentAt = optional(lastReminder)
	return s, nil
}

func (r Repo) InsertSignerTx(ctx context.Context, tx *sql.Tx, s domain.Signer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO signers(id,document_id,email,name,signing_order,status,access_token,signed_at,decline_reason,origin_ip,origin_user_agent,reminder_count,last_reminder_sent_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.DocumentID, s.Email, nullable(s.Name), optInt(s.SigningOrder), s.Status, s.AccessToken,
		optString(s.SignedAt), optString(s.DeclineReason), optString(s.OriginIP), optString(s.OriginUserAgent),
		s.ReminderCount, optString(s.LastReminderSentAt), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateSignerTx(ctx context.Context, tx *sql.Tx, s domain.Signer) error {
	res, err := tx.ExecContext(ctx, `UPDATE signers SET email=?,name=?,signing_order=?,status=?,signed_at=?,decline_reason=?,origin_ip=?,origin_user_agent=?,reminder_count=?,last_reminder_sent_at=?,updated_at=? WHERE id=?`,
		s.Email, nullable(s.Name), optInt(s.SigningOrder), s.Status, optString(s.SignedAt), optString(s.DeclineReason),
		optString(s.OriginIP), optString(s.OriginUserAgent), s.ReminderCount, optString(s.LastReminderSentAt), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSignerTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM signers WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSigner(ctx context.Context, id string) (domain.Signer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+signerCols+` FROM signers WHERE id=?`, id)
	return scanSigner(row.Scan)
}

func (r Repo) GetSignerByToken(ctx context.Context, token string) (domain.Signer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+signerCols+` FROM signers WHERE access_token=?`, token)
	return scanSigner(row.Scan)
}

func (r Repo) ListSigners(ctx context.Context, documentID string) ([]domain.Signer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+signerCols+` FROM signers WHERE document_id=? ORDER BY signing_order IS NULL, signing_order ASC, created_at ASC, id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signer
	for rows.Next() {
		s, err := scanSigner(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- fields ---

const fieldCols = `id,document_id,type,page,x,y,width,height,required,signer_email,properties_json,visibility_json,calculation_json,created_at,updated_at`

func scanField(scan func(dest ...any) error) (domain.Field, error) {
	var f domain.Field
	var signerEmail, props, vis, calc sql.NullString
	var required int
	err := scan(&f.ID, &f.DocumentID, &f.Type, &f.Page, &f.X, &f.Y, &f.Width, &f.Height,
		&required, &signerEmail, &props, &vis, &calc, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	f.Required = required != 0
	if signerEmail.Valid {
		f.SignerEmail = signerEmail.String
	}
	if props.Valid && props.String != "" {
		f.Properties = &domain.FieldProperties{}
		_ = json.Unmarshal([]byte(props.String), f.Properties)
	}
	if vis.Valid && vis.String != "" {
		f.Visibility = &domain.VisibilityRules{}
		_ = json.Unmarshal([]byte(vis.String), f.Visibility)
	}
	if calc.Valid && calc.String != "" {
		f.Calculation = &domain.Calculation{}
		_ = json.Unmarshal([]byte(calc.String), f.Calculation)
	}
	return f, nil
}

func (r Repo) InsertFieldTx(ctx context.Context, tx *sql.Tx, f domain.Field) error {
	props, vis, calc, err := fieldJSON(f)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO fields(id,document_id,type,page,x,y,width,height,required,signer_email,properties_json,visibility_json,calculation_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.DocumentID, f.Type, f.Page, f.X, f.Y, f.Width, f.Height, boolInt(f.Required),
		nullable(f.SignerEmail), props, vis, calc, f.CreatedAt, f.UpdatedAt)
	return err
}

func (r Repo) UpdateFieldTx(ctx context.Context, tx *sql.Tx, f domain.Field) error {
	props, vis, calc, err := fieldJSON(f)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE fields SET type=?,page=?,x=?,y=?,width=?,height=?,required=?,signer_email=?,properties_json=?,visibility_json=?,calculation_json=?,updated_at=? WHERE id=?`,
		f.Type, f.Page, f.X, f.Y, f.Width, f.Height, boolInt(f.Required), nullable(f.SignerEmail),
		props, vis, calc, f.UpdatedAt, f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteFieldTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetField(ctx context.Context, id string) (domain.Field, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+fieldCols+` FROM fields WHERE id=?`, id)
	return scanField(row.Scan)
}

func (r Repo) ListFields(ctx context.Context, documentID string) ([]domain.Field, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+fieldCols+` FROM fields WHERE document_id=? ORDER BY page ASC, y ASC, x ASC, id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Field
	for rows.Next() {
		f, err := scanField(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func fieldJSON(f domain.Field) (props, vis, calc any, err error) {
	props, err = marshalPtr(f.Properties)
	if err != nil {
		return
	}
	vis, err = marshalPtr(f.Visibility)
	if err != nil {
		return
	}
	calc, err = marshalPtr(f.Calculation)
	return
}

// LoadAggregate reads one document with its signers, fields and values.
func (r Repo) LoadAggregate(ctx context.Context, documentID string) (domain.Aggregate, error) {
	var agg domain.Aggregate
	doc, err := r.GetDocument(ctx, documentID)
	if err != nil {
		return agg, err
	}
	signers, err := r.ListSigners(ctx, documentID)
	if err != nil {
		return agg, err
	}
	fields, err := r.ListFields(ctx, documentID)
	if err != nil {
		return agg, err
	}
	values, err := r.ListValues(ctx, documentID)
	if err != nil {
		return agg, err
	}
	return domain.Aggregate{Document: doc, Signers: signers, Fields: fields, Values: values}, nil
}

// --- events ---

const eventCols = `id,ts,type,COALESCE(document_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	err := scan(&e.ID, &e.TS, &e.Type, &e.DocumentID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload)
	return e, err
}

// EventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventCols+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// LatestEvents returns the newest events matching the optional filters.
func (r Repo) LatestEvents(ctx context.Context, n int, documentID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if documentID != "" {
		clauses = append(clauses, "document_id=?")
		args = append(args, documentID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventCols+` FROM events WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optString(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func optional(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalOrNil(v []int) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalPtr(v any) (any, error) {
	switch t := v.(type) {
	case *domain.FieldProperties:
		if t == nil {
			return nil, nil
		}
	case *domain.VisibilityRules:
		if t == nil {
			return nil, nil
		}
	case *domain.Calculation:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
