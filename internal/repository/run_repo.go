package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/yoon0701/ZeroGravity/internal/models"
)

//go:embed migrations
var migrations embed.FS

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// RunRepository is the ledger of pipeline runs and the rows they produced.
type RunRepository struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

// NewRunRepository opens the ledger and applies pending migrations. dbType
// is "sqlite" (dsn is a file path) or "postgres" (dsn is a connection URL).
func NewRunRepository(dbType, dsn string, logger *zap.Logger) (*RunRepository, error) {
	var driver string
	switch dbType {
	case "", "sqlite":
		driver = "sqlite"
	case "postgres":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}

	repo := &RunRepository{db: db, driver: driver, logger: logger}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Run repository initialized", zap.String("driver", driver))
	return repo, nil
}

func (r *RunRepository) migrate() error {
	var (
		drv database.Driver
		err error
	)
	if r.driver == "postgres" {
		drv, err = postgres.WithInstance(r.db.DB, &postgres.Config{})
	} else {
		drv, err = sqlite.WithInstance(r.db.DB, &sqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("couldn't get database instance: %w", err)
	}

	src, err := iofs.New(migrations, "migrations/"+r.driver)
	if err != nil {
		return fmt.Errorf("couldn't open migrations: %w", err)
	}
	defer src.Close()

	m, err := migrate.NewWithInstance("iofs", src, r.driver, drv)
	if err != nil {
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// CreateRun inserts a new run
func (r *RunRepository) CreateRun(run *models.Run) error {
	query := r.db.Rebind(`
		INSERT INTO runs (id, kind, status, output, target, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if _, err := r.db.Exec(query, run.ID, run.Kind, run.Status, run.Output, run.Target, run.CreatedAt); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun stores the progress counters and final status of a run
func (r *RunRepository) UpdateRun(run *models.Run) error {
	query := r.db.Rebind(`
		UPDATE runs
		SET status = ?, produced_count = ?, skipped_count = ?, failed_count = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`)
	_, err := r.db.Exec(query, run.Status, run.ProducedCount, run.SkippedCount, run.FailedCount,
		run.CompletedAt, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *RunRepository) GetRun(id string) (*models.Run, error) {
	run := &models.Run{}
	err := r.db.Get(run, r.db.Rebind(`SELECT * FROM runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (r *RunRepository) ListRuns(limit int) ([]models.Run, error) {
	query := `SELECT * FROM runs ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	runs := []models.Run{}
	if err := r.db.Select(&runs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// SaveRecord stores one produced row and sets rec.RowID.
func (r *RunRepository) SaveRecord(rec *models.LedgerRecord) error {
	query := r.db.Rebind(`
		INSERT INTO records (
			run_id, origin, provider, model, text, source_id,
			length, has_url, has_phone, label, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := r.db.QueryRowx(query,
		rec.RunID, rec.Origin, rec.Provider, rec.Model, rec.Text, rec.ID,
		rec.Length, rec.HasURL, rec.HasPhone, rec.Label, rec.CreatedAt,
	).Scan(&rec.RowID)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// RecordFilter narrows GetRecords. Zero values match everything.
type RecordFilter struct {
	RunID string
	Label *models.Label
	Limit int
}

// GetRecords returns stored rows, newest first.
func (r *RunRepository) GetRecords(f RecordFilter) ([]models.LedgerRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Label != nil {
		where = append(where, "label = ?")
		args = append(args, *f.Label)
	}

	query := `SELECT * FROM records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	records := []models.LedgerRecord{}
	if err := r.db.Select(&records, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return records, nil
}

// Stats summarizes the ledger
type Stats struct {
	Runs      int            `json:"runs"`
	Records   int            `json:"records"`
	WithURL   int            `json:"with_url"`
	WithPhone int            `json:"with_phone"`
	ByLabel   map[string]int `json:"by_label"`
	ByOrigin  map[string]int `json:"by_origin"`
}

// GetStats returns statistics about stored runs and records
func (r *RunRepository) GetStats() (*Stats, error) {
	stats := &Stats{ByLabel: map[string]int{}, ByOrigin: map[string]int{}}

	if err := r.db.Get(&stats.Runs, `SELECT COUNT(*) FROM runs`); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	var totals struct {
		Records   int `db:"records"`
		WithURL   int `db:"with_url"`
		WithPhone int `db:"with_phone"`
	}
	err := r.db.Get(&totals, `
		SELECT COUNT(*) AS records,
		       COALESCE(SUM(has_url), 0) AS with_url,
		       COALESCE(SUM(has_phone), 0) AS with_phone
		FROM records
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	stats.Records, stats.WithURL, stats.WithPhone = totals.Records, totals.WithURL, totals.WithPhone

	var byLabel []struct {
		Label models.Label `db:"label"`
		Count int          `db:"count"`
	}
	if err := r.db.Select(&byLabel, `SELECT label, COUNT(*) AS count FROM records GROUP BY label`); err != nil {
		return nil, fmt.Errorf("failed to group by label: %w", err)
	}
	for _, row := range byLabel {
		name, ok := models.LabelNames[row.Label]
		if !ok {
			name = fmt.Sprint(int(row.Label))
		}
		stats.ByLabel[name] = row.Count
	}

	var byOrigin []struct {
		Origin string `db:"origin"`
		Count  int    `db:"count"`
	}
	if err := r.db.Select(&byOrigin, `SELECT origin, COUNT(*) AS count FROM records GROUP BY origin`); err != nil {
		return nil, fmt.Errorf("failed to group by origin: %w", err)
	}
	for _, row := range byOrigin {
		stats.ByOrigin[row.Origin] = row.Count
	}

	return stats, nil
}

// Close closes the database connection
func (r *RunRepository) Close() error {
	return r.db.Close()
}
