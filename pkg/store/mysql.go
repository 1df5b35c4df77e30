package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/localize"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrSessionNotFound is returned when no session has the requested ID.
var ErrSessionNotFound = errors.New("store: session not found")

// MySQL stores session reports and their estimates.
type MySQL struct {
	db *sqlx.DB
}

// OpenMySQL connects with dsn (go-sql-driver format), configures the pool and
// verifies the connection. parseTime=true is required.
func OpenMySQL(ctx context.Context, dsn string) (*MySQL, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return &MySQL{db: db}, nil
}

// NewMySQL wraps an existing connection.
func NewMySQL(db *sqlx.DB) *MySQL {
	return &MySQL{db: db}
}

// Close closes the connection pool.
func (m *MySQL) Close() error {
	return m.db.Close()
}

// Migrate applies the embedded schema migrations. Already up to date is not an error.
func (m *MySQL) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}
	driver, err := migratemysql.WithInstance(m.db.DB, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

type sessionRow struct {
	ID         string          `db:"id"`
	Label      string          `db:"label"`
	StartedAt  time.Time       `db:"started_at"`
	FinishedAt time.Time       `db:"finished_at"`
	Frames     int             `db:"frames"`
	Silent     int             `db:"silent"`
	Solved     int             `db:"solved"`
	Skipped    int             `db:"skipped"`
	Failed     int             `db:"failed"`
	Stopped    bool            `db:"stopped"`
	RMSE       sql.NullFloat64 `db:"rmse"`
}

type estimateRow struct {
	SessionID   string  `db:"session_id"`
	Frame       int     `db:"frame"`
	StartSample int     `db:"start_sample"`
	TimeS       float64 `db:"time_s"`
	X           float64 `db:"x"`
	Y           float64 `db:"y"`
	Residual    float64 `db:"residual"`
	Status      string  `db:"status"`
}

func (r estimateRow) estimate() (localize.PositionEstimate, error) {
	status, err := localize.ParseFrameStatus(r.Status)
	if err != nil {
		return localize.PositionEstimate{}, err
	}
	return localize.PositionEstimate{
		Frame:    r.Frame,
		Start:    r.StartSample,
		Time:     time.Duration(r.TimeS * float64(time.Second)),
		Position: geometry.Point2{X: r.X, Y: r.Y},
		Residual: r.Residual,
		Status:   status,
	}, nil
}

// SaveReport writes the session row and all of its estimates in one transaction.
func (m *MySQL) SaveReport(ctx context.Context, label string, r *localize.Report) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	row := sessionRow{
		ID:         r.SessionID,
		Label:      label,
		StartedAt:  r.Started.UTC(),
		FinishedAt: r.Finished.UTC(),
		Frames:     r.Frames,
		Silent:     r.Silent,
		Solved:     r.Solved,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Stopped:    r.Stopped,
	}
	if r.Accuracy != nil && r.Accuracy.Count > 0 {
		row.RMSE = sql.NullFloat64{Float64: r.Accuracy.RMSE, Valid: true}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO sessions (id, label, started_at, finished_at, frames, silent, solved, skipped, failed, stopped, rmse)
		VALUES (:id, :label, :started_at, :finished_at, :frames, :silent, :solved, :skipped, :failed, :stopped, :rmse)`, row)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}

	if len(r.Estimates) > 0 {
		rows := make([]estimateRow, len(r.Estimates))
		for i, e := range r.Estimates {
			rows[i] = estimateRow{
				SessionID:   r.SessionID,
				Frame:       e.Frame,
				StartSample: e.Start,
				TimeS:       e.Time.Seconds(),
				X:           e.Position.X,
				Y:           e.Position.Y,
				Residual:    e.Residual,
				Status:      e.Status.String(),
			}
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO estimates (session_id, frame, start_sample, time_s, x, y, residual, status)
			VALUES (:session_id, :frame, :start_sample, :time_s, :x, :y, :residual, :status)`, rows)
		if err != nil {
			return fmt.Errorf("store: insert estimates: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// SessionSummary is a stored session without its estimates.
type SessionSummary struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Frames   int       `json:"frames"`
	Solved   int       `json:"solved"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Silent   int       `json:"silent"`
	RMSE     *float64  `json:"rmse,omitempty"`
}

// Session returns the stored summary for id.
func (m *MySQL) Session(ctx context.Context, id string) (SessionSummary, error) {
	var row sessionRow
	err := m.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionSummary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return SessionSummary{}, fmt.Errorf("store: get session: %w", err)
	}

	s := SessionSummary{
		ID:       row.ID,
		Label:    row.Label,
		Started:  row.StartedAt,
		Finished: row.FinishedAt,
		Frames:   row.Frames,
		Solved:   row.Solved,
		Skipped:  row.Skipped,
		Failed:   row.Failed,
		Silent:   row.Silent,
	}
	if row.RMSE.Valid {
		s.RMSE = &row.RMSE.Float64
	}
	return s, nil
}

// Estimates returns the stored estimates for a session in frame order.
func (m *MySQL) Estimates(ctx context.Context, sessionID string) ([]localize.PositionEstimate, error) {
	var rows []estimateRow
	err := m.db.SelectContext(ctx, &rows,
		`SELECT * FROM estimates WHERE session_id = ? ORDER BY frame`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list estimates: %w", err)
	}

	out := make([]localize.PositionEstimate, 0, len(rows))
	for _, r := range rows {
		e, err := r.estimate()
		if err != nil {
			return nil, fmt.Errorf("store: session %s frame %d: %w", sessionID, r.Frame, err)
		}
		out = append(out, e)
	}
	return out, nil
}
