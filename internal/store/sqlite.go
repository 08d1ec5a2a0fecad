package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/factserp/internal/domain"
)

//go:embed schema.sql
var schema string

// Store handles database operations
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Clear removes all ingested data. API keys are kept.
func (s *Store) Clear(ctx context.Context) error {
	tables := []string{"html_content_urls", "html_contents", "serp_contents", "links", "questions", "facts", "datasets"}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return tx.Commit()
}

// EnsureDataset returns the named dataset, creating it if needed
func (s *Store) EnsureDataset(ctx context.Context, name, description string) (*domain.Dataset, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO datasets (name, description, is_active, created_at) VALUES (?, ?, 1, ?) ON CONFLICT(name) DO NOTHING",
		name, description, s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert dataset: %w", err)
	}
	return s.GetDataset(ctx, name)
}

// GetDataset retrieves a dataset by name
func (s *Store) GetDataset(ctx context.Context, name string) (*domain.Dataset, error) {
	var d domain.Dataset
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, is_active, created_at FROM datasets WHERE name = ?",
		name,
	).Scan(&d.ID, &d.Name, &d.Description, &d.IsActive, &d.CreatedAt)
	if err != nil {
		return nil, notFound("get dataset", err)
	}
	return &d, nil
}

// ListDatasets returns datasets ordered by name
func (s *Store) ListDatasets(ctx context.Context, activeOnly bool) ([]domain.Dataset, error) {
	query := "SELECT id, name, description, is_active, created_at FROM datasets"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []domain.Dataset
	for rows.Next() {
		var d domain.Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// EnsureFact creates the fact if it does not exist and reports whether it did
func (s *Store) EnsureFact(ctx context.Context, datasetID int64, factID string) (*domain.Fact, bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO facts (dataset_id, fact_id, created_at) VALUES (?, ?, ?) ON CONFLICT(dataset_id, fact_id) DO NOTHING",
		datasetID, factID, s.now(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert fact: %w", err)
	}
	n, _ := res.RowsAffected()

	var f domain.Fact
	err = s.db.QueryRowContext(ctx,
		"SELECT id, dataset_id, fact_id, created_at FROM facts WHERE dataset_id = ? AND fact_id = ?",
		datasetID, factID,
	).Scan(&f.ID, &f.DatasetID, &f.FactID, &f.CreatedAt)
	if err != nil {
		return nil, false, notFound("get fact", err)
	}
	return &f, n > 0, nil
}

// GetFact retrieves a fact by dataset name and fact id
func (s *Store) GetFact(ctx context.Context, dataset, factID string) (*domain.Fact, error) {
	var f domain.Fact
	err := s.db.QueryRowContext(ctx, `
		SELECT f.id, f.dataset_id, f.fact_id, f.created_at
		FROM facts f
		JOIN datasets d ON d.id = f.dataset_id
		WHERE d.name = ? AND f.fact_id = ?
	`, dataset, factID).Scan(&f.ID, &f.DatasetID, &f.FactID, &f.CreatedAt)
	if err != nil {
		return nil, notFound("get fact", err)
	}
	return &f, nil
}

// ListFacts returns all facts of a dataset ordered by fact id
func (s *Store) ListFacts(ctx context.Context, datasetID int64) ([]domain.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, dataset_id, fact_id, created_at FROM facts WHERE dataset_id = ? ORDER BY fact_id",
		datasetID,
	)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var facts []domain.Fact
	for rows.Next() {
		var f domain.Fact
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.FactID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Stats counts rows per table
type Stats struct {
	Datasets        int `json:"datasets"`
	Facts           int `json:"facts"`
	Questions       int `json:"questions"`
	Links           int `json:"links"`
	SerpContents    int `json:"serp_contents"`
	HtmlContents    int `json:"html_contents"`
	HtmlContentURLs int `json:"html_content_urls"`
}

// Stats returns the row count of every ingested table
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	targets := []struct {
		table string
		dest  *int
	}{
		{"datasets", &st.Datasets},
		{"facts", &st.Facts},
		{"questions", &st.Questions},
		{"links", &st.Links},
		{"serp_contents", &st.SerpContents},
		{"html_contents", &st.HtmlContents},
		{"html_content_urls", &st.HtmlContentURLs},
	}
	for _, t := range targets {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(t.dest); err != nil {
			return st, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return st, nil
}

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
