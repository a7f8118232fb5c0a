package database

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tahcohcat/studyquest/internal/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type DB struct {
	*sqlx.DB
}

// NewDB creates a new database connection and makes sure the schema exists.
func NewDB(driver, dsn string) (*DB, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dsn == "" {
			dsn = "studyquest.db" // Default SQLite file
		}
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// every connection would get its own empty in-memory database
		db.SetMaxOpenConns(1)
	}

	dbWrapper := &DB{DB: db}

	// Initialize database schema
	if err := dbWrapper.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.New().With("driver", driver).Info("Database connection established and tables initialized")
	return dbWrapper, nil
}

func sqliteDSN(dsn string) string {
	params := []string{"_foreign_keys=on", "_busy_timeout=5000", "_txlock=immediate"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.New().WithError(rbErr).Warn("failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// createTables creates the necessary database tables. The DDL sticks to the
// subset SQLite and PostgreSQL both accept.
func (db *DB) createTables() error {
	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_id TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		total_points INTEGER NOT NULL DEFAULT 0,
		streak_count INTEGER NOT NULL DEFAULT 0,
		longest_streak INTEGER NOT NULL DEFAULT 0,
		last_activity_date TEXT,
		streak_shields INTEGER NOT NULL DEFAULT 0 CHECK (streak_shields BETWEEN 0 AND 3),
		xp_multiplier_day INTEGER,
		created_at TIMESTAMP NOT NULL
	);`

	assignmentsTable := `
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		external_ref TEXT NOT NULL,
		course_id TEXT NOT NULL DEFAULT '',
		course_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		due_at TIMESTAMP,
		submitted_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'pending',
		manually_completed BOOLEAN NOT NULL DEFAULT FALSE,
		is_urgent BOOLEAN NOT NULL DEFAULT FALSE,
		urgent_order DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, external_ref)
	);`

	tasksTable := `
	CREATE TABLE IF NOT EXISTS custom_tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		points_value INTEGER NOT NULL CHECK (points_value BETWEEN 1 AND 100),
		status TEXT NOT NULL DEFAULT 'pending',
		due_at TIMESTAMP,
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`

	ledgerTable := `
	CREATE TABLE IF NOT EXISTS points_ledger (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		assignment_id TEXT,
		task_id TEXT,
		created_at TIMESTAMP NOT NULL
	);`

	eventsTable := `
	CREATE TABLE IF NOT EXISTS activity_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		milestone INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);`

	achievementsTable := `
	CREATE TABLE IF NOT EXISTS achievements (
		id TEXT PRIMARY KEY,
		icon TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		bonus_points INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);`

	// no foreign key to achievements: a catalog row may disappear and
	// evaluation has to cope with it
	userAchievementsTable := `
	CREATE TABLE IF NOT EXISTS user_achievements (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		achievement_id TEXT NOT NULL,
		unlocked_at TIMESTAMP NOT NULL,
		seen BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (user_id, achievement_id)
	);`

	poolTable := `
	CREATE TABLE IF NOT EXISTS challenge_pool (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		target_value INTEGER NOT NULL,
		bonus_points INTEGER NOT NULL,
		difficulty TEXT NOT NULL
	);`

	dailyTable := `
	CREATE TABLE IF NOT EXISTS user_daily_challenges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		challenge_date TEXT NOT NULL,
		challenge_id TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		bonus_awarded BOOLEAN NOT NULL DEFAULT FALSE,
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, challenge_date, challenge_id)
	);`

	leaderboardsTable := `
	CREATE TABLE IF NOT EXISTS leaderboards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		invite_code TEXT UNIQUE NOT NULL,
		creator_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL
	);`

	membersTable := `
	CREATE TABLE IF NOT EXISTS leaderboard_members (
		leaderboard_id TEXT NOT NULL REFERENCES leaderboards(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at TIMESTAMP NOT NULL,
		PRIMARY KEY (leaderboard_id, user_id)
	);`

	// Create indexes for the access patterns the engine needs
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_assignments_user ON assignments(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON custom_tasks(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user ON points_ledger(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_assignment ON points_ledger(assignment_id);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_task ON points_ledger(task_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_kind ON activity_events(user_id, kind);`,
		`CREATE INDEX IF NOT EXISTS idx_daily_user_date ON user_daily_challenges(user_id, challenge_date);`,
		`CREATE INDEX IF NOT EXISTS idx_members_user ON leaderboard_members(user_id);`,
	}

	for _, query := range []string{
		usersTable, assignmentsTable, tasksTable, ledgerTable, eventsTable,
		achievementsTable, userAchievementsTable, poolTable, dailyTable,
		leaderboardsTable, membersTable,
	} {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, index := range indexes {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
