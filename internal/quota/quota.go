package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scribepipe/internal/job"
)

// ErrQuotaExceeded is the non-retryable admission failure. Callers match it
// with errors.Is to render an upgrade prompt instead of a generic error.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrNoAccount indicates the user has no quota account provisioned.
var ErrNoAccount = errors.New("no quota account")

// Account is the per-user allowance record. Mutated only by the Guard;
// the monthly reset is owned by an external scheduler.
type Account struct {
	UserID            string
	Plan              string
	QuotaDocuments    int
	UsageDocuments    int
	QuotaAudioMinutes int
	UsageAudioMinutes float64
	MaxPDFPages       int
	ResetDate         *time.Time
}

// DocumentsRemaining returns how many more jobs the account may complete.
func (a Account) DocumentsRemaining() int {
	return a.QuotaDocuments - a.UsageDocuments
}

// AudioMinutesRemaining returns the unspent audio allowance.
func (a Account) AudioMinutesRemaining() float64 {
	return float64(a.QuotaAudioMinutes) - a.UsageAudioMinutes
}

// Guard performs pre-flight admission and post-completion usage commits.
type Guard struct {
	db *sql.DB
}

// NewGuard builds a Guard over the shared job database handle.
func NewGuard(db *sql.DB) *Guard {
	return &Guard{db: db}
}

// Get fetches the account for a user. Returns ErrNoAccount when absent.
func (g *Guard) Get(ctx context.Context, userID string) (Account, error) {
	row := g.db.QueryRowContext(
		ctx,
		`SELECT user_id, plan, quota_documents, usage_documents,
            quota_audio_minutes, usage_audio_minutes, max_pdf_pages, reset_date
         FROM quota_accounts WHERE user_id = ?`,
		userID,
	)
	var (
		acct     Account
		resetRaw sql.NullString
	)
	err := row.Scan(
		&acct.UserID, &acct.Plan, &acct.QuotaDocuments, &acct.UsageDocuments,
		&acct.QuotaAudioMinutes, &acct.UsageAudioMinutes, &acct.MaxPDFPages, &resetRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: user %s", ErrNoAccount, userID)
	}
	if err != nil {
		return Account{}, fmt.Errorf("get quota account: %w", err)
	}
	if resetRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, resetRaw.String); err == nil {
			acct.ResetDate = &t
		}
	}
	return acct, nil
}

// Upsert provisions or replaces an account. Used by tests and admin tooling.
func (g *Guard) Upsert(ctx context.Context, acct Account) error {
	var reset any
	if acct.ResetDate != nil {
		reset = acct.ResetDate.UTC().Format(time.RFC3339Nano)
	}
	_, err := g.db.ExecContext(
		ctx,
		`INSERT INTO quota_accounts (
            user_id, plan, quota_documents, usage_documents,
            quota_audio_minutes, usage_audio_minutes, max_pdf_pages, reset_date
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            plan = excluded.plan,
            quota_documents = excluded.quota_documents,
            usage_documents = excluded.usage_documents,
            quota_audio_minutes = excluded.quota_audio_minutes,
            usage_audio_minutes = excluded.usage_audio_minutes,
            max_pdf_pages = excluded.max_pdf_pages,
            reset_date = excluded.reset_date`,
		acct.UserID, acct.Plan, acct.QuotaDocuments, acct.UsageDocuments,
		acct.QuotaAudioMinutes, acct.UsageAudioMinutes, acct.MaxPDFPages, reset,
	)
	if err != nil {
		return fmt.Errorf("upsert quota account: %w", err)
	}
	return nil
}

// Admit checks whether a new job for the user may start. For audio the real
// minute cost is unknown until transcription finishes, so admission gates on
// the documents-remaining proxy for both kinds.
func (g *Guard) Admit(ctx context.Context, userID string, kind job.ContentKind) error {
	acct, err := g.Get(ctx, userID)
	if err != nil {
		return err
	}
	if acct.DocumentsRemaining() <= 0 {
		return fmt.Errorf("%w: %s allowance used up on plan %s", ErrQuotaExceeded, kind, acct.Plan)
	}
	if kind == job.KindAudio && acct.QuotaAudioMinutes > 0 && acct.AudioMinutesRemaining() <= 0 {
		return fmt.Errorf("%w: audio minutes used up on plan %s", ErrQuotaExceeded, acct.Plan)
	}
	return nil
}

// CheckPDFPages enforces the per-plan page ceiling once the page count is
// known. Violations are non-retryable.
func (g *Guard) CheckPDFPages(ctx context.Context, userID string, pages int) error {
	acct, err := g.Get(ctx, userID)
	if err != nil {
		return err
	}
	if acct.MaxPDFPages > 0 && pages > acct.MaxPDFPages {
		return fmt.Errorf("%w: document has %d pages, plan %s allows %d",
			ErrQuotaExceeded, pages, acct.Plan, acct.MaxPDFPages)
	}
	return nil
}

// Commit increments usage after a job completes. The increment happens inside
// the database so concurrent completions for the same user are additive.
func (g *Guard) Commit(ctx context.Context, userID string, kind job.ContentKind, audioMinutes float64) error {
	var (
		res sql.Result
		err error
	)
	if kind == job.KindAudio {
		res, err = g.db.ExecContext(
			ctx,
			`UPDATE quota_accounts
             SET usage_documents = usage_documents + 1,
                 usage_audio_minutes = usage_audio_minutes + ?
             WHERE user_id = ?`,
			audioMinutes,
			userID,
		)
	} else {
		res, err = g.db.ExecContext(
			ctx,
			`UPDATE quota_accounts SET usage_documents = usage_documents + 1 WHERE user_id = ?`,
			userID,
		)
	}
	if err != nil {
		return fmt.Errorf("commit quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", ErrNoAccount, userID)
	}
	return nil
}
