package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "penwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeFormat is fixed-width UTC so string comparison in SQL matches
// chronological order (the eligibility scan relies on this).
const timeFormat = "2006-01-02T15:04:05Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

// Open initializes the sqlite store at cfg.Path, creating the schema if needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- policies ----

func (s *sqliteStore) GetPolicy(ctx context.Context, userID string) (Policy, bool, error) {
	var (
		p                 Policy
		enabled, weekends int
		sendTime, tz      sql.NullString
		updatedAt         string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, enabled, days_before, active_start, active_end, allow_weekends, send_time, timezone, updated_at
		 FROM policies WHERE user_id = ?`, userID).
		Scan(&p.UserID, &enabled, &p.DaysBefore, &p.ActiveStart, &p.ActiveEnd, &weekends, &sendTime, &tz, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	p.Enabled = enabled != 0
	p.AllowWeekends = weekends != 0
	p.SendTime = sendTime.String
	p.Timezone = tz.String
	p.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return p, true, nil
}

func (s *sqliteStore) PutPolicy(ctx context.Context, p Policy) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policies(user_id, enabled, days_before, active_start, active_end, allow_weekends, send_time, timezone, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   enabled=excluded.enabled, days_before=excluded.days_before,
		   active_start=excluded.active_start, active_end=excluded.active_end,
		   allow_weekends=excluded.allow_weekends, send_time=excluded.send_time,
		   timezone=excluded.timezone, updated_at=excluded.updated_at`,
		p.UserID, boolInt(p.Enabled), p.DaysBefore, p.ActiveStart, p.ActiveEnd,
		boolInt(p.AllowWeekends), nullStr(p.SendTime), nullStr(p.Timezone), fmtTime(p.UpdatedAt))
	return err
}

// ---- activity ----

func (s *sqliteStore) UpsertActivity(ctx context.Context, a Activity) error {
	if a.LastActiveAt.IsZero() {
		a.LastActiveAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity(user_id, email, last_active, user_agent) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   email=excluded.email, last_active=excluded.last_active, user_agent=excluded.user_agent`,
		a.UserID, nullStr(a.Email), fmtTime(a.LastActiveAt), nullStr(a.UserAgent))
	return err
}

func (s *sqliteStore) QueryActiveSince(ctx context.Context, cutoff time.Time) ([]UserRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, email, last_active FROM activity WHERE last_active >= ?`,
		fmtTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserRef
	for rows.Next() {
		var (
			u     UserRef
			email sql.NullString
			last  string
		)
		if err := rows.Scan(&u.ID, &email, &last); err != nil {
			return nil, err
		}
		u.Email = email.String
		u.LastActiveAt, _ = time.Parse(timeFormat, last)
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---- pensions ----

const pensionCols = `id, person_name, company_name, status, expiration_date, monthly_amount, lugar, local, notes, created_at, updated_at, last_renewal`

func (s *sqliteStore) CreatePension(ctx context.Context, p Pension) error {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Lugar == "" {
		p.Lugar = "stw"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pensions(`+pensionCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.PersonName, p.CompanyName, p.Status, p.ExpirationDate,
		nullFloat(p.MonthlyAmount), p.Lugar, nullStr(p.Local), nullStr(p.Notes),
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt), nullTime(p.LastRenewal))
	return err
}

func (s *sqliteStore) GetPension(ctx context.Context, id string) (Pension, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pensionCols+` FROM pensions WHERE id = ?`, id)
	p, err := scanPension(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Pension{}, false, nil
	}
	if err != nil {
		return Pension{}, false, err
	}
	return p, true, nil
}

func (s *sqliteStore) ListPensions(ctx context.Context, status string, limit int) ([]Pension, error) {
	if limit <= 0 {
		limit = 200
	}
	q := `SELECT ` + pensionCols + ` FROM pensions`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY expiration_date ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPensions(rows)
}

func (s *sqliteStore) UpdatePension(ctx context.Context, p Pension) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pensions SET person_name=?, company_name=?, status=?, expiration_date=?,
		   monthly_amount=?, lugar=?, local=?, notes=?, updated_at=?
		 WHERE id=?`,
		p.PersonName, p.CompanyName, p.Status, p.ExpirationDate,
		nullFloat(p.MonthlyAmount), p.Lugar, nullStr(p.Local), nullStr(p.Notes),
		fmtTime(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pension %s not found", p.ID)
	}
	return nil
}

// RenewPension sets a new expiration date and flips the record back to active,
// stamping last_renewal. Mirrors the renewal flow of the admin UI.
func (s *sqliteStore) RenewPension(ctx context.Context, id, newExpiration string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pensions SET expiration_date=?, status=?, last_renewal=?, updated_at=? WHERE id=?`,
		newExpiration, StatusActive, fmtTime(at), fmtTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pension %s not found", id)
	}
	return nil
}

func (s *sqliteStore) QueryByStatusAndExpiration(ctx context.Context, status, date string) ([]Pension, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pensionCols+` FROM pensions WHERE status = ? AND expiration_date = ?`,
		status, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPensions(rows)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanPension(r rowScanner) (Pension, error) {
	var (
		p                   Pension
		amount              sql.NullFloat64
		local, notes        sql.NullString
		created, updated    string
		lastRenewal         sql.NullString
	)
	err := r.Scan(&p.ID, &p.PersonName, &p.CompanyName, &p.Status, &p.ExpirationDate,
		&amount, &p.Lugar, &local, &notes, &created, &updated, &lastRenewal)
	if err != nil {
		return Pension{}, err
	}
	p.MonthlyAmount = amount.Float64
	p.Local = local.String
	p.Notes = notes.String
	p.CreatedAt, _ = time.Parse(timeFormat, created)
	p.UpdatedAt, _ = time.Parse(timeFormat, updated)
	if lastRenewal.Valid {
		if t, err := time.Parse(timeFormat, lastRenewal.String); err == nil {
			p.LastRenewal = &t
		}
	}
	return p, nil
}

func collectPensions(rows *sql.Rows) ([]Pension, error) {
	var out []Pension
	for rows.Next() {
		p, err := scanPension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- device tokens ----

func (s *sqliteStore) GetToken(ctx context.Context, userID string) (DeviceToken, bool, error) {
	var (
		t                          DeviceToken
		email, ua, platform, lang  sql.NullString
		updated                    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, token, email, user_agent, platform, language, updated_at FROM tokens WHERE user_id = ?`,
		userID).
		Scan(&t.UserID, &t.Token, &email, &ua, &platform, &lang, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceToken{}, false, nil
	}
	if err != nil {
		return DeviceToken{}, false, err
	}
	t.Email = email.String
	t.UserAgent = ua.String
	t.Platform = platform.String
	t.Language = lang.String
	t.UpdatedAt, _ = time.Parse(timeFormat, updated)
	return t, true, nil
}

func (s *sqliteStore) PutToken(ctx context.Context, t DeviceToken) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens(user_id, token, email, user_agent, platform, language, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   token=excluded.token, email=excluded.email, user_agent=excluded.user_agent,
		   platform=excluded.platform, language=excluded.language, updated_at=excluded.updated_at`,
		t.UserID, t.Token, nullStr(t.Email), nullStr(t.UserAgent),
		nullStr(t.Platform), nullStr(t.Language), fmtTime(t.UpdatedAt))
	return err
}

func (s *sqliteStore) DeleteToken(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE user_id = ?`, userID)
	return err
}

// ---- notification log ----

func (s *sqliteStore) AppendLog(ctx context.Context, e LogEntry) error {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_log(id, user_id, user_email, pension_id, pension_name, expiration_date, sent_at, success_count, failure_count, message)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, nullStr(e.UserEmail), e.PensionID, e.PensionName,
		e.ExpirationDate, fmtTime(e.SentAt), e.SuccessCount, e.FailureCount, nullStr(e.Message))
	return err
}

func (s *sqliteStore) ListLog(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_email, pension_id, pension_name, expiration_date, sent_at, success_count, failure_count, message
		 FROM notification_log ORDER BY sent_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e           LogEntry
			email, msg  sql.NullString
			sentAt      string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &email, &e.PensionID, &e.PensionName,
			&e.ExpirationDate, &sentAt, &e.SuccessCount, &e.FailureCount, &msg); err != nil {
			return nil, err
		}
		e.UserEmail = email.String
		e.Message = msg.String
		e.SentAt, _ = time.Parse(timeFormat, sentAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- sent markers ----

func (s *sqliteStore) PutMarker(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markers(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetMarker(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM markers WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM markers WHERE until < ?`, now)
	return err
}

// ---- helpers ----

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
