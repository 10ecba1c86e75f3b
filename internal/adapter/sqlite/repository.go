package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/stateroom/stateroom/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Compile-time checks: Repository implements both persistence ports.
var (
	_ domain.ConfigRepository = (*Repository)(nil)
	_ domain.EntityRepository = (*Repository)(nil)
)

// Repository persists machine configuration, entity state, and transition
// history in SQLite. Entity creation and transition commits are multi-row
// transactions, so the current state and the history chain never diverge.
type Repository struct {
	db *sql.DB
}

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*Repository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from fragmenting across connections.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and
// returns a ready repository. Use this when the *sql.DB has been
// pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*Repository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters
// (e.g., river).
func (r *Repository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = time.RFC3339Nano

// --- Configuration ---

func (r *Repository) CreateMachine(ctx context.Context, m domain.Machine) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO machines (machine, description, factory) VALUES (?, ?, ?)`,
		m.Name, m.Description, m.Factory,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.AlreadyExistsError{Resource: "machine", Key: m.Name}
		}
		return fmt.Errorf("inserting machine: %w", err)
	}
	return nil
}

func (r *Repository) CreateState(ctx context.Context, s domain.State) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO states (machine, state, state_type) VALUES (?, ?, ?)`,
		s.Machine, s.Name, string(s.Type),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.AlreadyExistsError{Resource: "state", Key: s.Machine + "/" + s.Name}
		}
		if isForeignKeyViolation(err) {
			return domain.ErrMachineNotFound
		}
		return fmt.Errorf("inserting state: %w", err)
	}
	return nil
}

func (r *Repository) CreateTransition(ctx context.Context, t domain.Transition) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transitions (machine, state_from, state_to, rule_ref, command_ref, priority, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Machine, t.StateFrom, t.StateTo, t.RuleRef, t.CommandRef, t.Priority, t.Description,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.AlreadyExistsError{
				Resource: "transition",
				Key:      t.Machine + "/" + t.StateFrom + "->" + t.StateTo,
			}
		}
		if isForeignKeyViolation(err) {
			return &domain.ConfigurationError{
				Machine: t.Machine,
				Reason:  fmt.Sprintf("transition %q -> %q references an unknown state", t.StateFrom, t.StateTo),
			}
		}
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// LoadMachine returns the full configuration of a machine. Transitions come
// back ordered by priority with insertion order as the tie-break, which is
// the engine's evaluation order.
func (r *Repository) LoadMachine(ctx context.Context, name string) (domain.MachineConfig, error) {
	var cfg domain.MachineConfig

	err := r.db.QueryRowContext(ctx,
		`SELECT machine, description, factory FROM machines WHERE machine = ?`, name,
	).Scan(&cfg.Machine.Name, &cfg.Machine.Description, &cfg.Machine.Factory)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MachineConfig{}, domain.ErrMachineNotFound
		}
		return domain.MachineConfig{}, fmt.Errorf("scanning machine: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT machine, state, state_type FROM states WHERE machine = ? ORDER BY state`, name,
	)
	if err != nil {
		return domain.MachineConfig{}, fmt.Errorf("listing states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.State
		var stateType string
		if err := rows.Scan(&s.Machine, &s.Name, &stateType); err != nil {
			return domain.MachineConfig{}, fmt.Errorf("scanning state: %w", err)
		}
		s.Type = domain.StateType(stateType)
		cfg.States = append(cfg.States, s)
	}
	if err := rows.Err(); err != nil {
		return domain.MachineConfig{}, fmt.Errorf("listing states: %w", err)
	}

	trows, err := r.db.QueryContext(ctx,
		`SELECT machine, state_from, state_to, rule_ref, command_ref, priority, description
		 FROM transitions WHERE machine = ? ORDER BY priority, id`, name,
	)
	if err != nil {
		return domain.MachineConfig{}, fmt.Errorf("listing transitions: %w", err)
	}
	defer trows.Close()

	for trows.Next() {
		var t domain.Transition
		if err := trows.Scan(&t.Machine, &t.StateFrom, &t.StateTo, &t.RuleRef, &t.CommandRef, &t.Priority, &t.Description); err != nil {
			return domain.MachineConfig{}, fmt.Errorf("scanning transition: %w", err)
		}
		cfg.Transitions = append(cfg.Transitions, t)
	}
	if err := trows.Err(); err != nil {
		return domain.MachineConfig{}, fmt.Errorf("listing transitions: %w", err)
	}

	return cfg, nil
}

// --- Entities and history ---

// Add creates the entity row and its creation history record in one
// transaction. The creation record is the only one with a NULL previous
// changetime.
func (r *Repository) Add(ctx context.Context, machine, entityID, initialState string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning add transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now.UTC().Format(timeFormat)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (machine, entity_id, state, changetime) VALUES (?, ?, ?, ?)`,
		machine, entityID, initialState, ts,
	); err != nil {
		if isUniqueViolation(err) {
			return &domain.AlreadyExistsError{Resource: "entity", Key: machine + "/" + entityID}
		}
		if isForeignKeyViolation(err) {
			return domain.ErrMachineNotFound
		}
		return fmt.Errorf("inserting entity: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (machine, entity_id, state_from, state_to, changetime, changetime_previous, message)
		 VALUES (?, ?, ?, ?, ?, NULL, '')`,
		machine, entityID, initialState, initialState, ts,
	); err != nil {
		return fmt.Errorf("inserting creation history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing add: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, machine, entityID string) (domain.Entity, error) {
	var ent domain.Entity
	var changetime string

	err := r.db.QueryRowContext(ctx,
		`SELECT machine, entity_id, state, changetime FROM entities WHERE machine = ? AND entity_id = ?`,
		machine, entityID,
	).Scan(&ent.Machine, &ent.EntityID, &ent.State, &changetime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entity{}, domain.ErrEntityNotFound
		}
		return domain.Entity{}, fmt.Errorf("scanning entity: %w", err)
	}

	ent.ChangeTime, err = time.Parse(timeFormat, changetime)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("parsing entity changetime: %w", err)
	}
	return ent, nil
}

func (r *Repository) FindByState(ctx context.Context, machine, state string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_id FROM entities WHERE machine = ? AND state = ? ORDER BY entity_id`,
		machine, state,
	)
	if err != nil {
		return nil, fmt.Errorf("finding entities by state: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CommitTransition overwrites the entity state and appends the history
// record in one transaction. The UPDATE is guarded on the expected source
// state; zero affected rows means the entity moved (or vanished) under a
// competing writer and nothing is committed.
func (r *Repository) CommitTransition(ctx context.Context, c domain.TransitionCommit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE entities SET state = ?, changetime = ? WHERE machine = ? AND entity_id = ? AND state = ?`,
		c.StateTo, c.ChangeTime.UTC().Format(timeFormat), c.Machine, c.EntityID, c.StateFrom,
	)
	if err != nil {
		return fmt.Errorf("updating entity state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM entities WHERE machine = ? AND entity_id = ?`,
			c.Machine, c.EntityID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking entity existence: %w", err)
		}
		if exists == 0 {
			return domain.ErrEntityNotFound
		}
		return domain.ErrStaleState
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (machine, entity_id, state_from, state_to, changetime, changetime_previous, message)
		 VALUES (?, ?, ?, ?, ?, ?, '')`,
		c.Machine, c.EntityID, c.StateFrom, c.StateTo,
		c.ChangeTime.UTC().Format(timeFormat),
		c.ChangeTimePrevious.UTC().Format(timeFormat),
	); err != nil {
		return fmt.Errorf("inserting transition history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transition: %w", err)
	}
	return nil
}

// RecordFailure appends a failed-attempt record (self-loop with message).
// The entity row is deliberately untouched.
func (r *Repository) RecordFailure(ctx context.Context, f domain.FailureRecord) error {
	if f.Message == "" {
		return fmt.Errorf("failure record requires a message")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO history (machine, entity_id, state_from, state_to, changetime, changetime_previous, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.Machine, f.EntityID, f.State, f.State,
		f.ChangeTime.UTC().Format(timeFormat),
		f.ChangeTimePrevious.UTC().Format(timeFormat),
		f.Message,
	)
	if err != nil {
		return fmt.Errorf("inserting failure history: %w", err)
	}
	return nil
}

func (r *Repository) History(ctx context.Context, machine, entityID string) ([]domain.HistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, machine, entity_id, state_from, state_to, changetime, changetime_previous, message
		 FROM history WHERE machine = ? AND entity_id = ? ORDER BY id`,
		machine, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanHistory(rows *sql.Rows) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	var changetime string
	var previous sql.NullString

	err := rows.Scan(&rec.ID, &rec.Machine, &rec.EntityID, &rec.StateFrom, &rec.StateTo, &changetime, &previous, &rec.Message)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("scanning history row: %w", err)
	}

	rec.ChangeTime, err = time.Parse(timeFormat, changetime)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("parsing history changetime: %w", err)
	}

	if previous.Valid {
		prev, err := time.Parse(timeFormat, previous.String)
		if err != nil {
			return domain.HistoryRecord{}, fmt.Errorf("parsing previous changetime: %w", err)
		}
		rec.ChangeTimePrevious = &prev
	}

	return rec, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if a SQLite error is a FOREIGN KEY violation.
func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
