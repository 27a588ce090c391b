package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signflow/internal/config"
	"signflow/internal/domain"
	"signflow/internal/events"
	"signflow/internal/field"
	"signflow/internal/fieldeval"
	"signflow/internal/lifecycle"
	"signflow/internal/repo"
	"signflow/internal/sequence"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) pageDims(page int) field.Dimensions {
	if e.Config == nil {
		return field.Dimensions{}
	}
	w, h := e.Config.PageDimensions()
	return field.Dimensions{Width: w, Height: h}
}

// InitAccount bootstraps the account row and its default config with
// migrations already run.
func (e Engine) InitAccount(ctx context.Context, accountID, name, actorID string) (domain.Account, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Account{ID: accountID, Name: name, CreatedAt: now}
	if err := e.Repo.EnsureAccount(ctx, tx, a.ID, a.Name, a.CreatedAt); err != nil {
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}
	if err := e.Repo.UpsertAccountConfigTx(ctx, tx, a.ID, config.Default(a.ID)); err != nil {
		return domain.Account{}, fmt.Errorf("insert account config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "account.init", "", "account", a.ID, actorID, nil); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// DocumentCreateOptions are parameters for creating a document.
type DocumentCreateOptions struct {
	ID           string
	OwnerID      string
	Title        string
	WorkflowType string
	ExpiresAt    string
	Reminders    *domain.ReminderSettings
	ActorID      string
}

func (e Engine) CreateDocument(ctx context.Context, opts DocumentCreateOptions) (domain.Document, error) {
	if e.Config == nil {
		return domain.Document{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Document{}, errors.New("title is required")
	}
	if opts.OwnerID == "" {
		return domain.Document{}, errors.New("owner is required")
	}
	wt := opts.WorkflowType
	if wt == "" {
		wt = e.Config.Documents.WorkflowType
	}
	if !validWorkflowType(wt) {
		return domain.Document{}, fmt.Errorf("unknown workflow type %q", wt)
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	reminders := e.Config.ReminderDefaults()
	if opts.Reminders != nil {
		reminders = *opts.Reminders
	}
	d := domain.Document{
		ID:           id,
		OwnerID:      opts.OwnerID,
		Title:        opts.Title,
		Status:       domain.DocumentDraft,
		WorkflowType: wt,
		Reminders:    reminders,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.ExpiresAt != "" {
		if _, err := time.Parse(time.RFC3339, opts.ExpiresAt); err != nil {
			return domain.Document{}, fmt.Errorf("invalid expires_at: %w", err)
		}
		d.ExpiresAt = &opts.ExpiresAt
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDocumentTx(ctx, tx, e.Config.Account.ID, d); err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "document.created", d.ID, "document", d.ID, opts.ActorID, events.EventPayload{
		"title": d.Title, "workflow_type": d.WorkflowType,
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// DocumentUpdateOptions carries the editable attributes. Nil pointers keep
// the stored value.
type DocumentUpdateOptions struct {
	Title        *string
	WorkflowType *string
	ExpiresAt    *string
	Reminders    *domain.ReminderSettings
	ActorID      string
}

func (e Engine) UpdateDocument(ctx context.Context, documentID string, opts DocumentUpdateOptions) (domain.Document, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if !lifecycle.CanEdit(d) {
		return domain.Document{}, &lifecycle.IllegalTransitionError{From: d.Status, To: domain.DocumentDraft}
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Document{}, errors.New("title is required")
		}
		d.Title = *opts.Title
	}
	if opts.WorkflowType != nil {
		if !validWorkflowType(*opts.WorkflowType) {
			return domain.Document{}, fmt.Errorf("unknown workflow type %q", *opts.WorkflowType)
		}
		d.WorkflowType = *opts.WorkflowType
		signers, err := e.Repo.ListSigners(ctx, documentID)
		if err != nil {
			return domain.Document{}, err
		}
		if err := sequence.ValidateOrders(d.WorkflowType, signers); err != nil {
			return domain.Document{}, err
		}
	}
	if opts.ExpiresAt != nil {
		if *opts.ExpiresAt == "" {
			d.ExpiresAt = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *opts.ExpiresAt); err != nil {
				return domain.Document{}, fmt.Errorf("invalid expires_at: %w", err)
			}
			d.ExpiresAt = opts.ExpiresAt
		}
	}
	if opts.Reminders != nil {
		d.Reminders = *opts.Reminders
	}
	d.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "document.updated", d.ID, "document", d.ID, opts.ActorID, events.EventPayload{"title": d.Title}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

func (e Engine) DeleteDocument(ctx context.Context, documentID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return err
	}
	if !lifecycle.CanEdit(d) {
		return fmt.Errorf("document %s is %s, only drafts can be deleted", d.ID, d.Status)
	}
	if err := e.Repo.DeleteDocumentTx(ctx, tx, documentID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "document.deleted", d.ID, "document", d.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetDocument(ctx context.Context, documentID string) (domain.Document, error) {
	return e.Repo.GetDocument(ctx, documentID)
}

func (e Engine) GetAggregate(ctx context.Context, documentID string) (domain.Aggregate, error) {
	return e.Repo.LoadAggregate(ctx, documentID)
}

func (e Engine) ListDocuments(ctx context.Context, status string, limit int) ([]domain.Document, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Repo.ListDocuments(ctx, e.Config.Account.ID, status, limit)
}

// SendDocument moves a draft or scheduled document to pending after the full
// pre-send check set passes.
func (e Engine) SendDocument(ctx context.Context, documentID, actorID string) (domain.Document, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	d, err := e.sendTx(ctx, tx, documentID, actorID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

func (e Engine) sendTx(ctx context.Context, tx *sql.Tx, documentID, actorID string) (domain.Document, error) {
	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	signers, err := e.Repo.ListSigners(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	fields, err := e.Repo.ListFields(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := e.checkSendable(d, signers, fields); err != nil {
		return domain.Document{}, err
	}
	now := e.now()
	d, err = lifecycle.MarkAsPending(d, now)
	if err != nil {
		return domain.Document{}, err
	}
	if d.ExpiresAt == nil && e.Config != nil && e.Config.Documents.ExpiryDays > 0 {
		exp := now.UTC().AddDate(0, 0, e.Config.Documents.ExpiryDays).Format(time.RFC3339)
		d.ExpiresAt = &exp
	}
	if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "document.sent", d.ID, "document", d.ID, actorID, events.EventPayload{
		"signers": len(signers), "fields": len(fields),
	}); err != nil {
		return domain.Document{}, err
	}
	for _, s := range signers {
		if !sequence.CanSign(s, signers) {
			continue
		}
		if err := e.Events.Append(ctx, tx, "signer.invited", d.ID, "signer", s.ID, actorID, events.EventPayload{"email": s.Email}); err != nil {
			return domain.Document{}, err
		}
	}
	return d, nil
}

// checkSendable aggregates every reason the document cannot go out.
func (e Engine) checkSendable(d domain.Document, signers []domain.Signer, fields []domain.Field) error {
	if d.Status != domain.DocumentDraft && d.Status != domain.DocumentScheduled {
		return &lifecycle.IllegalTransitionError{From: d.Status, To: domain.DocumentPending}
	}
	var errs []string
	if len(signers) == 0 {
		errs = append(errs, "document has no signers")
	}
	if len(fields) == 0 {
		errs = append(errs, "document has no fields")
	}
	if d.WorkflowType == domain.WorkflowSingle && len(signers) > 1 {
		errs = append(errs, "single workflow allows exactly one signer")
	}
	if err := sequence.ValidateOrders(d.WorkflowType, signers); err != nil {
		errs = append(errs, err.Error())
	}
	known := make(map[string]bool, len(signers))
	for _, s := range signers {
		known[s.Email] = true
	}
	for _, f := range fields {
		if f.SignerEmail == "" {
			errs = append(errs, fmt.Sprintf("field %s is not assigned to a signer", f.ID))
		} else if !known[f.SignerEmail] {
			errs = append(errs, fmt.Sprintf("field %s is assigned to unknown signer %s", f.ID, f.SignerEmail))
		}
	}
	if res := field.ValidateAll(fields, e.pageDims); !res.Valid {
		errs = append(errs, res.Errors...)
	}
	errs = append(errs, fieldeval.ValidateReferences(fields)...)
	if len(errs) > 0 {
		return &field.ValidationFailedError{Errors: errs}
	}
	return nil
}

// ScheduleDocument queues a draft for automatic sending at sendAt. The same
// pre-send checks run now so a broken document never sits in the queue.
func (e Engine) ScheduleDocument(ctx context.Context, documentID string, sendAt time.Time, actorID string) (domain.Document, error) {
	now := e.now()
	if !sendAt.After(now) {
		return domain.Document{}, errors.New("send time must be in the future")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	signers, err := e.Repo.ListSigners(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	fields, err := e.Repo.ListFields(ctx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if d.Status != domain.DocumentDraft {
		return domain.Document{}, &lifecycle.IllegalTransitionError{From: d.Status, To: domain.DocumentScheduled}
	}
	if err := e.checkSendable(d, signers, fields); err != nil {
		return domain.Document{}, err
	}
	d, err = lifecycle.MarkAsScheduled(d, sendAt, now)
	if err != nil {
		return domain.Document{}, err
	}
	if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "document.scheduled", d.ID, "document", d.ID, actorID, events.EventPayload{"send_at": *d.SendAt}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// CancelSchedule returns a scheduled document to draft.
func (e Engine) CancelSchedule(ctx context.Context, documentID, actorID string) (domain.Document, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	d, err = lifecycle.RevertToDraft(d, e.now())
	if err != nil {
		return domain.Document{}, err
	}
	if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "document.schedule_cancelled", d.ID, "document", d.ID, actorID, nil); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// ProcessDueSchedules sends every scheduled document whose send time has
// passed. Each document commits independently so one failure does not block
// the rest.
func (e Engine) ProcessDueSchedules(ctx context.Context, actorID string) (int, error) {
	due, err := e.Repo.ListScheduledDue(ctx, e.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	sent := 0
	var errs []error
	for _, d := range due {
		if _, err := e.SendDocument(ctx, d.ID, actorID); err != nil {
			errs = append(errs, fmt.Errorf("scheduled send of %s: %w", d.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (e Engine) CancelDocument(ctx context.Context, documentID, actorID string) (domain.Document, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if !lifecycle.CanCancel(d) {
		return domain.Document{}, &lifecycle.IllegalTransitionError{From: d.Status, To: domain.DocumentCancelled}
	}
	now := e.now()
	if d.Status == domain.DocumentScheduled {
		// a scheduled document goes back to draft rather than terminal
		d, err = lifecycle.RevertToDraft(d, now)
	} else {
		d, err = lifecycle.MarkAsCancelled(d, now)
	}
	if err != nil {
		return domain.Document{}, err
	}
	if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "document.cancelled", d.ID, "document", d.ID, actorID, events.EventPayload{"status": d.Status}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

func validWorkflowType(wt string) bool {
	switch wt {
	case domain.WorkflowSingle, domain.WorkflowSequential, domain.WorkflowParallel:
		return true
	}
	return false
}
