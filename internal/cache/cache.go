// Package cache persists per-(function, check) analysis outcomes in SQLite.
// The key is the sha256 of the function's docstring-bearing source paired
// with the check key, so any byte change to a function invalidates all of
// its entries. Caching is an optimization: callers treat every cache error
// as a miss and carry on.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"loopsleuth/internal/types"
)

// DefaultDir is the cache directory used when none is configured.
const DefaultDir = ".loopsleuth_cache"

// Cache is a content-addressed store of check outcomes. A disabled cache
// behaves as an always-empty, write-discarding store; callers never need to
// special-case it.
type Cache struct {
	db      *sql.DB
	enabled bool
}

// CachedResult mirrors a stored CheckResult.
type CachedResult struct {
	HasIssue bool
	Analysis string
	Solution string // empty when no solution was stored
}

// Open creates or opens the cache database under dir. When enabled is
// false the returned cache discards writes and never reports hits.
func Open(dir string, enabled bool, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !enabled {
		return &Cache{enabled: false}, nil
	}

	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "analysis_cache.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	// Single sequential writer; WAL still cheapens crash recovery.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}

	if err := migrateLegacySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS check_results (
			function_hash TEXT NOT NULL,
			check_key TEXT NOT NULL,
			has_issue INTEGER NOT NULL,
			analysis TEXT NOT NULL,
			solution TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (function_hash, check_key)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Cache{db: db, enabled: true}, nil
}

// migrateLegacySchema upgrades the original single-check analysis_results
// table into the composite-key schema. Legacy rows are preserved under the
// fixed check key "quadratic" and the old table is dropped. One-time and
// irreversible.
func migrateLegacySchema(db *sql.DB) error {
	var n int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='analysis_results'",
	).Scan(&n); err != nil {
		return fmt.Errorf("failed to inspect cache schema: %w", err)
	}
	if n == 0 {
		return nil
	}

	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='check_results'",
	).Scan(&n); err != nil {
		return fmt.Errorf("failed to inspect cache schema: %w", err)
	}
	if n > 0 {
		// Already migrated.
		return nil
	}

	stmts := []string{
		`CREATE TABLE check_results (
			function_hash TEXT NOT NULL,
			check_key TEXT NOT NULL,
			has_issue INTEGER NOT NULL,
			analysis TEXT NOT NULL,
			solution TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (function_hash, check_key)
		)`,
		`INSERT INTO check_results (function_hash, check_key, has_issue, analysis, solution, created_at)
		 SELECT function_hash, 'quadratic', is_quadratic, analysis, solution, created_at
		 FROM analysis_results`,
		`DROP TABLE analysis_results`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate legacy cache schema: %w", err)
		}
	}
	return nil
}

// HashFunction returns the hex sha256 digest of a function's full source.
// Note the asymmetry inherited from the cache design: the digest covers the
// docstring-bearing source while prompts are built from the stripped
// variant, so editing only a docstring re-keys the entry without changing
// what the model sees.
func HashFunction(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get looks up the outcome for (function, checkKey). A disabled cache and
// any lookup failure both report a miss.
func (c *Cache) Get(fn *types.FunctionInfo, checkKey string) (*CachedResult, error) {
	if !c.enabled {
		return nil, nil
	}

	row := c.db.QueryRow(
		"SELECT has_issue, analysis, solution FROM check_results WHERE function_hash = ? AND check_key = ?",
		HashFunction(fn.Source), checkKey,
	)

	var (
		hasIssue int
		analysis string
		solution sql.NullString
	)
	if err := row.Scan(&hasIssue, &analysis, &solution); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	return &CachedResult{
		HasIssue: hasIssue != 0,
		Analysis: analysis,
		Solution: solution.String,
	}, nil
}

// Put stores the outcome for (function, checkKey), replacing any prior
// entry. Safe without a transaction because the pipeline is strictly
// sequential.
func (c *Cache) Put(fn *types.FunctionInfo, checkKey string, hasIssue bool, analysis, solution string) error {
	if !c.enabled {
		return nil
	}

	var sol any
	if solution != "" {
		sol = solution
	}
	issue := 0
	if hasIssue {
		issue = 1
	}

	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO check_results (function_hash, check_key, has_issue, analysis, solution, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		HashFunction(fn.Source), checkKey, issue, analysis, sol, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Clear removes every cache entry.
func (c *Cache) Clear() error {
	if !c.enabled {
		return nil
	}
	if _, err := c.db.Exec("DELETE FROM check_results"); err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	return nil
}

// Stats returns the total entry count and how many entries flag an issue.
func (c *Cache) Stats() (total, withIssues int, err error) {
	if !c.enabled {
		return 0, 0, nil
	}
	if err = c.db.QueryRow("SELECT COUNT(*) FROM check_results").Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("cache stats failed: %w", err)
	}
	if err = c.db.QueryRow("SELECT COUNT(*) FROM check_results WHERE has_issue = 1").Scan(&withIssues); err != nil {
		return 0, 0, fmt.Errorf("cache stats failed: %w", err)
	}
	return total, withIssues, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
