package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schemaVersion is bumped when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const schemaSQL = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE jobs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    content_kind TEXT NOT NULL,
    filename TEXT,
    source_url TEXT,
    language TEXT NOT NULL DEFAULT 'auto',
    requested_actions TEXT NOT NULL DEFAULT '[]',
    summary_style TEXT NOT NULL DEFAULT 'short',
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    created_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    transcript_url TEXT,
    srt_url TEXT,
    vtt_url TEXT,
    summary_url TEXT,
    speakers_url TEXT,
    spreadsheet_url TEXT,
    pdf_url TEXT,
    narration_url TEXT,
    tags TEXT NOT NULL DEFAULT '[]',
    audio_duration_seconds REAL NOT NULL DEFAULT 0,
    error_message TEXT,
    metadata_json TEXT,
    last_progress_at TEXT,
    progress_stage TEXT
);

CREATE INDEX idx_jobs_status ON jobs(status, created_at);
CREATE INDEX idx_jobs_user ON jobs(user_id);

CREATE TABLE quota_accounts (
    user_id TEXT PRIMARY KEY,
    plan TEXT NOT NULL DEFAULT 'free',
    quota_documents INTEGER NOT NULL DEFAULT 0,
    usage_documents INTEGER NOT NULL DEFAULT 0,
    quota_audio_minutes INTEGER NOT NULL DEFAULT 0,
    usage_audio_minutes REAL NOT NULL DEFAULT 0,
    max_pdf_pages INTEGER NOT NULL DEFAULT 50,
    reset_date TEXT
);
`

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Handle exposes the database connection for sibling stores sharing the file.
func (s *Store) Handle() *sql.DB {
	return s.db
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Create inserts a new pending job. An empty ID is generated.
func (s *Store) Create(ctx context.Context, j *Job) error {
	if j == nil {
		return errors.New("job is nil")
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Metadata.Version == 0 {
		j.Metadata = NewMetadata(j.RequestedActions)
	}

	actions, err := json.Marshal(j.RequestedActions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	tags, err := json.Marshal(emptyIfNil(j.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	meta, err := j.Metadata.marshal()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, user_id, content_kind, filename, source_url, language,
            requested_actions, summary_style, status, retry_count, max_retries,
            created_at, tags, audio_duration_seconds, metadata_json
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID,
		j.UserID,
		string(j.ContentKind),
		nullableString(j.Filename),
		nullableString(j.SourceURL),
		orDefault(j.Language, "auto"),
		string(actions),
		string(orDefault(string(j.SummaryStyle), string(SummaryShort))),
		string(j.Status),
		j.RetryCount,
		j.MaxRetries,
		j.CreatedAt.Format(time.RFC3339Nano),
		string(tags),
		j.AudioDurationSeconds,
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, content_kind, filename, source_url, language,
    requested_actions, summary_style, status, retry_count, max_retries,
    created_at, started_at, completed_at,
    transcript_url, srt_url, vtt_url, summary_url, speakers_url,
    spreadsheet_url, pdf_url, narration_url,
    tags, audio_duration_seconds, error_message, metadata_json,
    last_progress_at, progress_stage`

// GetByID fetches a job by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Update persists mutable fields of an in-flight job. It never writes
// status, which moves only through the guarded transition helpers, and it
// leaves terminal rows untouched so a stale copy cannot undo a force-fail.
// Artifact URL columns use COALESCE so a value, once written, is never
// overwritten.
func (s *Store) Update(ctx context.Context, j *Job) error {
	if j == nil {
		return errors.New("job is nil")
	}
	tags, err := json.Marshal(emptyIfNil(j.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	meta, err := j.Metadata.marshal()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
            source_url = ?,
            retry_count = ?,
            started_at = ?,
            completed_at = ?,
            transcript_url = COALESCE(transcript_url, ?),
            srt_url = COALESCE(srt_url, ?),
            vtt_url = COALESCE(vtt_url, ?),
            summary_url = COALESCE(summary_url, ?),
            speakers_url = COALESCE(speakers_url, ?),
            spreadsheet_url = COALESCE(spreadsheet_url, ?),
            pdf_url = COALESCE(pdf_url, ?),
            narration_url = COALESCE(narration_url, ?),
            tags = ?,
            audio_duration_seconds = ?,
            error_message = ?,
            metadata_json = ?,
            last_progress_at = ?,
            progress_stage = ?
        WHERE id = ? AND status NOT IN (?, ?)`,
		nullableString(j.SourceURL),
		j.RetryCount,
		nullableTime(j.StartedAt),
		nullableTime(j.CompletedAt),
		nullableString(j.Artifacts.TranscriptURL),
		nullableString(j.Artifacts.SRTURL),
		nullableString(j.Artifacts.VTTURL),
		nullableString(j.Artifacts.SummaryURL),
		nullableString(j.Artifacts.SpeakersURL),
		nullableString(j.Artifacts.SpreadsheetURL),
		nullableString(j.Artifacts.PDFURL),
		nullableString(j.Artifacts.NarrationURL),
		string(tags),
		j.AudioDurationSeconds,
		nullableString(j.ErrorMessage),
		meta,
		nullableTime(j.LastProgressAt),
		nullableString(j.ProgressStage),
		j.ID,
		string(StatusCompleted),
		string(StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Transition moves a job between statuses with a guarded update. It returns
// false when the job was not in the expected source status.
func (s *Store) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var completedClause string
	if to.IsTerminal() {
		completedClause = ", completed_at = ?"
	}
	query := `UPDATE jobs SET status = ?, last_progress_at = ?` + completedClause + ` WHERE id = ? AND status = ?`
	args := []any{string(to), now}
	if to.IsTerminal() {
		args = append(args, now)
	}
	args = append(args, id, string(from))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClaimNextPending atomically claims the oldest pending job for processing.
// Returns nil when the queue is empty.
func (s *Store) ClaimNextPending(ctx context.Context) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs SET status = ?, started_at = COALESCE(started_at, ?), last_progress_at = ?
         WHERE id = (SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1)
         RETURNING `+jobColumns,
		string(StatusProcessing),
		now,
		now,
		string(StatusPending),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending job: %w", err)
	}
	return j, nil
}

// RequeueForRetry moves a processing job back to pending with an incremented
// retry count. This is the one sanctioned backward move in the lifecycle.
func (s *Store) RequeueForRetry(ctx context.Context, id, reason string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, retry_count = retry_count + 1,
            error_message = ?, last_progress_at = ?, progress_stage = 'retry queued'
         WHERE id = ? AND status = ? AND retry_count < max_retries`,
		string(StatusPending),
		nullableString(reason),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ForceFail marks a non-terminal job failed regardless of its current status.
// Used by the watchdog; tolerates the job having completed or vanished since
// it was read.
func (s *Store) ForceFail(ctx context.Context, id, message string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		string(StatusFailed),
		message,
		now,
		id,
		string(StatusCompleted),
		string(StatusFailed),
	)
	if err != nil {
		return false, fmt.Errorf("force fail job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// TouchProgress records forward progress for the watchdog.
func (s *Store) TouchProgress(ctx context.Context, id, stage string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_progress_at = ?, progress_stage = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		stage,
		id,
	)
	if err != nil {
		return fmt.Errorf("touch progress: %w", err)
	}
	return nil
}

// ClearSource empties the source URL after cleanup.
func (s *Store) ClearSource(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET source_url = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear source: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set (all jobs when empty), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = string(status)
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListNonTerminal returns jobs still in flight, for the watchdog scan.
func (s *Store) ListNonTerminal(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, StatusPending, StatusProcessing, StatusTranscribed, StatusSummarized)
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id             string
		userID         string
		contentKind    string
		filename       sql.NullString
		sourceURL      sql.NullString
		language       string
		actionsRaw     string
		summaryStyle   string
		statusStr      string
		retryCount     int
		maxRetries     int
		createdRaw     string
		startedRaw     sql.NullString
		completedRaw   sql.NullString
		transcriptURL  sql.NullString
		srtURL         sql.NullString
		vttURL         sql.NullString
		summaryURL     sql.NullString
		speakersURL    sql.NullString
		spreadsheetURL sql.NullString
		pdfURL         sql.NullString
		narrationURL   sql.NullString
		tagsRaw        string
		duration       float64
		errorMessage   sql.NullString
		metadataRaw    sql.NullString
		lastProgress   sql.NullString
		progressStage  sql.NullString
	)

	if err := scanner.Scan(
		&id, &userID, &contentKind, &filename, &sourceURL, &language,
		&actionsRaw, &summaryStyle, &statusStr, &retryCount, &maxRetries,
		&createdRaw, &startedRaw, &completedRaw,
		&transcriptURL, &srtURL, &vttURL, &summaryURL, &speakersURL,
		&spreadsheetURL, &pdfURL, &narrationURL,
		&tagsRaw, &duration, &errorMessage, &metadataRaw,
		&lastProgress, &progressStage,
	); err != nil {
		return nil, err
	}

	j := &Job{
		ID:                   id,
		UserID:               userID,
		ContentKind:          ContentKind(contentKind),
		Filename:             filename.String,
		SourceURL:            sourceURL.String,
		Language:             language,
		SummaryStyle:         SummaryStyle(summaryStyle),
		Status:               Status(statusStr),
		RetryCount:           retryCount,
		MaxRetries:           maxRetries,
		AudioDurationSeconds: duration,
		ErrorMessage:         errorMessage.String,
		ProgressStage:        progressStage.String,
		Artifacts: Artifacts{
			TranscriptURL:  transcriptURL.String,
			SRTURL:         srtURL.String,
			VTTURL:         vttURL.String,
			SummaryURL:     summaryURL.String,
			SpeakersURL:    speakersURL.String,
			SpreadsheetURL: spreadsheetURL.String,
			PDFURL:         pdfURL.String,
			NarrationURL:   narrationURL.String,
		},
	}

	if err := json.Unmarshal([]byte(actionsRaw), &j.RequestedActions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsRaw), &j.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	meta, err := unmarshalMetadata(metadataRaw.String)
	if err != nil {
		return nil, err
	}
	j.Metadata = meta

	if created, err := parseTimeString(createdRaw); err == nil {
		j.CreatedAt = created
	}
	if startedRaw.Valid {
		if t, err := parseTimeString(startedRaw.String); err == nil {
			j.StartedAt = &t
		}
	}
	if completedRaw.Valid {
		if t, err := parseTimeString(completedRaw.String); err == nil {
			j.CompletedAt = &t
		}
	}
	if lastProgress.Valid {
		if t, err := parseTimeString(lastProgress.String); err == nil {
			j.LastProgressAt = &t
		}
	}
	return j, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
