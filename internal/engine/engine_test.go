package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"signflow/internal/config"
	"signflow/internal/db"
	"signflow/internal/domain"
	"signflow/internal/engine"
	"signflow/internal/field"
	"signflow/internal/lifecycle"
	"signflow/internal/migrate"
	"signflow/internal/sequence"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("acct-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitAccount(ctx, "acct-1", "test", "tester"); err != nil {
		t.Fatalf("init account: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createDraft(t *testing.T, env testEnv, workflow string) domain.Document {
	t.Helper()
	d, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentCreateOptions{
		OwnerID:      "owner-1",
		Title:        "NDA",
		WorkflowType: workflow,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return d
}

func addSigner(t *testing.T, env testEnv, docID, email string, order *int) domain.Signer {
	t.Helper()
	s, err := env.Engine.AddSigner(env.Ctx, docID, engine.SignerOptions{Email: email, SigningOrder: order, ActorID: "tester"})
	if err != nil {
		t.Fatalf("add signer %s: %v", email, err)
	}
	return s
}

func addField(t *testing.T, env testEnv, docID string, opts engine.FieldOptions) domain.Field {
	t.Helper()
	opts.ActorID = "tester"
	f, err := env.Engine.AddField(env.Ctx, docID, opts)
	if err != nil {
		t.Fatalf("add field: %v", err)
	}
	return f
}

func intp(v int) *int { return &v }

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowParallel)
	addSigner(t, env, d.ID, "alice@example.com", nil)
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeSignature, Page: 0, X: 10, Y: 10, Width: 150, Height: 50,
		Required: true, SignerEmail: "alice@example.com",
	})
	d, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if d.Status != domain.DocumentPending {
		t.Fatalf("expected pending, got %s", d.Status)
	}
	if d.ExpiresAt == nil {
		t.Fatalf("expected expiry set from config defaults")
	}
	// editing after send fails
	if _, err := env.Engine.AddSigner(env.Ctx, d.ID, engine.SignerOptions{Email: "late@example.com", ActorID: "tester"}); err == nil {
		t.Fatalf("expected add signer on pending document to fail")
	}
	d, err = env.Engine.CancelDocument(env.Ctx, d.ID, "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if d.Status != domain.DocumentCancelled {
		t.Fatalf("expected cancelled, got %s", d.Status)
	}
	// terminal states reject further changes
	var illegal *lifecycle.IllegalTransitionError
	if _, err := env.Engine.CancelDocument(env.Ctx, d.ID, "tester"); !errors.As(err, &illegal) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
}

func TestSendRequiresSignersAndFields(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowParallel)
	var failed *field.ValidationFailedError
	_, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester")
	if !errors.As(err, &failed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if len(failed.Errors) < 2 {
		t.Fatalf("expected aggregated errors, got %v", failed.Errors)
	}
	// unassigned field also blocks
	addSigner(t, env, d.ID, "alice@example.com", nil)
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeSignature, X: 0, Y: 0, Width: 150, Height: 50, SignerEmail: "alice@example.com",
	})
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeText, X: 0, Y: 100, Width: 60, Height: 25,
	})
	_, err = env.Engine.SendDocument(env.Ctx, d.ID, "tester")
	if !errors.As(err, &failed) {
		t.Fatalf("expected unassigned field failure, got %v", err)
	}
}

func TestSequentialSigningOrder(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowSequential)
	first := addSigner(t, env, d.ID, "first@example.com", intp(1))
	second := addSigner(t, env, d.ID, "second@example.com", intp(2))
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeSignature, X: 10, Y: 10, Width: 150, Height: 50, SignerEmail: "first@example.com",
	})
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeSignature, X: 10, Y: 100, Width: 150, Height: 50, SignerEmail: "second@example.com",
	})
	if _, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	// second signer is blocked until the first signs
	var blocked *sequence.NotYourTurnError
	_, err := env.Engine.SignDocument(env.Ctx, second.AccessToken, sequence.Origin{IP: "10.0.0.2"})
	if !errors.As(err, &blocked) {
		t.Fatalf("expected not-your-turn, got %v", err)
	}
	if blocked.Blocking != "first@example.com" {
		t.Fatalf("expected blocker first@example.com, got %s", blocked.Blocking)
	}
	if _, err := env.Engine.SignDocument(env.Ctx, first.AccessToken, sequence.Origin{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	agg, err := env.Engine.SignDocument(env.Ctx, second.AccessToken, sequence.Origin{IP: "10.0.0.2"})
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}
	if agg.Document.Status != domain.DocumentCompleted {
		t.Fatalf("expected completed, got %s", agg.Document.Status)
	}
	if agg.Document.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}
	// signing twice is rejected
	var state *sequence.InvalidSignerStateError
	if _, err := env.Engine.SignDocument(env.Ctx, first.AccessToken, sequence.Origin{}); !errors.As(err, &state) {
		// the document is completed first, so either typed error is acceptable here
		var illegal *lifecycle.IllegalTransitionError
		if !errors.As(err, &illegal) {
			t.Fatalf("expected typed rejection, got %v", err)
		}
	}
}

func TestRequiredFieldBlocksSigning(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowSingle)
	signer := addSigner(t, env, d.ID, "alice@example.com", nil)
	f := addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeText, X: 10, Y: 10, Width: 60, Height: 25,
		Required: true, SignerEmail: "alice@example.com",
	})
	if _, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	var failed *field.ValidationFailedError
	if _, err := env.Engine.SignDocument(env.Ctx, signer.AccessToken, sequence.Origin{}); !errors.As(err, &failed) {
		t.Fatalf("expected required-field failure, got %v", err)
	}
	if _, err := env.Engine.SubmitValues(env.Ctx, signer.AccessToken, map[string]string{f.ID: "hello"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	agg, err := env.Engine.SignDocument(env.Ctx, signer.AccessToken, sequence.Origin{})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if agg.Document.Status != domain.DocumentCompleted {
		t.Fatalf("expected completed, got %s", agg.Document.Status)
	}
}

func TestHiddenRequiredFieldSkipped(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowSingle)
	signer := addSigner(t, env, d.ID, "alice@example.com", nil)
	toggle := addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeCheckbox, X: 10, Y: 10, Width: 15, Height: 15, SignerEmail: "alice@example.com",
	})
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeText, X: 10, Y: 50, Width: 60, Height: 25,
		Required: true, SignerEmail: "alice@example.com",
		Visibility: &domain.VisibilityRules{
			Operator:   "and",
			Conditions: []domain.Condition{{FieldID: toggle.ID, Comparison: "is_checked"}},
		},
	})
	if _, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	// checkbox unchecked hides the required field, so signing passes
	agg, err := env.Engine.SignDocument(env.Ctx, signer.AccessToken, sequence.Origin{})
	if err != nil {
		t.Fatalf("sign with hidden required field: %v", err)
	}
	if agg.Document.Status != domain.DocumentCompleted {
		t.Fatalf("expected completed, got %s", agg.Document.Status)
	}
}

func TestCalculatedFieldRecompute(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowSingle)
	signer := addSigner(t, env, d.ID, "alice@example.com", nil)
	a := addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeText, X: 10, Y: 10, Width: 60, Height: 25, SignerEmail: "alice@example.com",
	})
	b := addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeText, X: 10, Y: 50, Width: 60, Height: 25, SignerEmail: "alice@example.com",
	})
	total := addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeText, X: 10, Y: 90, Width: 60, Height: 25, SignerEmail: "alice@example.com",
		Calculation: &domain.Calculation{Formula: "sum", Fields: []string{a.ID, b.ID}},
	})
	if _, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	agg, err := env.Engine.SubmitValues(env.Ctx, signer.AccessToken, map[string]string{a.ID: "2", b.ID: "3.5"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got := ""
	for _, v := range agg.Values {
		if v.FieldID == total.ID {
			got = v.Value
		}
	}
	if got != "5.5" {
		t.Fatalf("expected calculated 5.5, got %q", got)
	}
	// writing a calculated field directly is rejected
	var failed *field.ValidationFailedError
	if _, err := env.Engine.SubmitValues(env.Ctx, signer.AccessToken, map[string]string{total.ID: "99"}); !errors.As(err, &failed) {
		t.Fatalf("expected calculated-field rejection, got %v", err)
	}
}

func TestDeclineKeepsDocumentPending(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowSingle)
	signer := addSigner(t, env, d.ID, "alice@example.com", nil)
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeSignature, X: 10, Y: 10, Width: 150, Height: 50, SignerEmail: "alice@example.com",
	})
	if _, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	agg, err := env.Engine.DeclineDocument(env.Ctx, signer.AccessToken, "wrong terms")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if agg.Document.Status != domain.DocumentPending {
		t.Fatalf("expected document to stay pending, got %s", agg.Document.Status)
	}
	if agg.Signers[0].Status != domain.SignerDeclined {
		t.Fatalf("expected declined signer")
	}
	// owner resets, signer signs, document completes
	if _, err := env.Engine.ResetSigner(env.Ctx, signer.ID, "tester"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	agg, err = env.Engine.SignDocument(env.Ctx, signer.AccessToken, sequence.Origin{})
	if err != nil {
		t.Fatalf("sign after reset: %v", err)
	}
	if agg.Document.Status != domain.DocumentCompleted {
		t.Fatalf("expected completed, got %s", agg.Document.Status)
	}
}

func TestReminderRateLimit(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowSingle)
	signer := addSigner(t, env, d.ID, "alice@example.com", nil)
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeSignature, X: 10, Y: 10, Width: 150, Height: 50, SignerEmail: "alice@example.com",
	})
	if _, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := env.Engine.RemindSigner(env.Ctx, signer.ID, "tester"); err != nil {
			t.Fatalf("reminder %d: %v", i+1, err)
		}
	}
	var limited *sequence.RateLimitedError
	_, err := env.Engine.RemindSigner(env.Ctx, signer.ID, "tester")
	if !errors.As(err, &limited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if limited.RetryAfter <= 0 {
		t.Fatalf("expected retry-after hint")
	}
	// the counter resets once the window has elapsed
	eng := env.Engine
	eng.Now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 1, 0, time.UTC) }
	if _, err := eng.RemindSigner(env.Ctx, signer.ID, "tester"); err != nil {
		t.Fatalf("reminder after window: %v", err)
	}
}

func TestScheduleAndProcessDue(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowSingle)
	addSigner(t, env, d.ID, "alice@example.com", nil)
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeSignature, X: 10, Y: 10, Width: 150, Height: 50, SignerEmail: "alice@example.com",
	})
	sendAt := time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)
	d, err := env.Engine.ScheduleDocument(env.Ctx, d.ID, sendAt, "tester")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if d.Status != domain.DocumentScheduled || d.SendAt == nil {
		t.Fatalf("expected scheduled with send_at, got %s", d.Status)
	}
	// not due yet
	n, err := env.Engine.ProcessDueSchedules(env.Ctx, "scheduler")
	if err != nil || n != 0 {
		t.Fatalf("expected nothing due, got %d (%v)", n, err)
	}
	eng := env.Engine
	eng.Now = func() time.Time { return time.Date(2026, 1, 3, 9, 0, 1, 0, time.UTC) }
	n, err = eng.ProcessDueSchedules(env.Ctx, "scheduler")
	if err != nil || n != 1 {
		t.Fatalf("expected one send, got %d (%v)", n, err)
	}
	d, err = env.Engine.GetDocument(env.Ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.Status != domain.DocumentPending || d.SendAt != nil {
		t.Fatalf("expected pending with cleared send_at, got %s", d.Status)
	}
	// cancel schedule path
	d2 := createDraft(t, env, domain.WorkflowSingle)
	addSigner(t, env, d2.ID, "bob@example.com", nil)
	addField(t, env, d2.ID, engine.FieldOptions{
		Type: field.TypeSignature, X: 10, Y: 10, Width: 150, Height: 50, SignerEmail: "bob@example.com",
	})
	if _, err := env.Engine.ScheduleDocument(env.Ctx, d2.ID, sendAt, "tester"); err != nil {
		t.Fatalf("schedule d2: %v", err)
	}
	d2, err = env.Engine.CancelSchedule(env.Ctx, d2.ID, "tester")
	if err != nil {
		t.Fatalf("cancel schedule: %v", err)
	}
	if d2.Status != domain.DocumentDraft || d2.SendAt != nil {
		t.Fatalf("expected draft with cleared send_at, got %s", d2.Status)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	d := createDraft(t, env, domain.WorkflowSingle)
	signer := addSigner(t, env, d.ID, "alice@example.com", nil)
	addField(t, env, d.ID, engine.FieldOptions{
		Type: field.TypeSignature, X: 10, Y: 10, Width: 150, Height: 50, SignerEmail: "alice@example.com",
	})
	if _, err := env.Engine.SendDocument(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := env.Engine.SignDocument(env.Ctx, signer.AccessToken, sequence.Origin{}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	evts, err := env.Engine.LatestEvents(env.Ctx, 50, d.ID, "", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := map[string]bool{
		"document.created": false, "signer.added": false, "field.added": false,
		"document.sent": false, "signer.invited": false, "signer.signed": false,
		"document.completed": false,
	}
	for _, e := range evts {
		if _, ok := want[e.Type]; ok {
			want[e.Type] = true
		}
	}
	for typ, seen := range want {
		if !seen {
			t.Fatalf("expected event %s in log", typ)
		}
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	k, raw, err := env.Engine.CreateAPIKey(env.Ctx, "owner-1", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	got, err := env.Engine.VerifyAPIKey(env.Ctx, raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != k.ID || got.ActorID != "owner-1" {
		t.Fatalf("unexpected key resolution")
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, k.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.VerifyAPIKey(env.Ctx, raw); err == nil {
		t.Fatalf("expected revoked key to fail")
	}
}
