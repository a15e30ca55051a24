// Copyright 2025 Civic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package verify cross-checks retrieval hits against the authoritative
// bylaw registry so citations carry official status, not just vector
// similarity.
package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/civiclabs/bylawd/pkg/bylaw"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a bylaw or section does not exist in the
// registry.
var ErrNotFound = errors.New("not found")

// Bylaw is one authoritative registry record.
type Bylaw struct {
	Number           string
	Title            string
	Category         bylaw.Category
	OfficialURL      string
	IsConsolidated   bool
	ConsolidatedDate string
	EnactmentDate    string
	AmendedBylaw     string
}

// Section is one numbered section of a registered bylaw.
type Section struct {
	BylawNumber string
	SectionID   string
	Title       string
	Text        string
	Seq         int
}

// Feedback is a user verdict on a returned citation. Feedback is
// append-only; it is never read back into ranking.
type Feedback struct {
	BylawNumber string
	SectionID   string
	Query       string
	Rating      bylaw.FeedbackRating
}

// StoreOptions configures the registry store.
type StoreOptions struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Store reads the bylaw registry from a SQL database. Supported drivers:
// postgres, mysql, sqlite3.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore opens the registry database and verifies connectivity.
func NewStore(ctx context.Context, opts StoreOptions) (*Store, error) {
	if opts.Driver == "" {
		return nil, fmt.Errorf("driver is required")
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", opts.Driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", opts.Driver, err)
	}

	return &Store{db: db, driver: opts.Driver}, nil
}

// NewStoreWithDB wraps an existing connection (used in tests).
func NewStoreWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// rebind converts ? placeholders to the driver's native style.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schemaStatements returns per-driver DDL. The dialects disagree on key
// columns and identity: mysql cannot index bare TEXT (error 1170) and
// needs AUTO_INCREMENT, postgres needs an explicit identity for the
// feedback id, and sqlite auto-assigns INTEGER PRIMARY KEY rowids.
func schemaStatements(driver string) []string {
	switch driver {
	case "postgres":
		return []string{
			`CREATE TABLE IF NOT EXISTS bylaws (
				number TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				category TEXT NOT NULL DEFAULT 'general',
				official_url TEXT NOT NULL DEFAULT '',
				is_consolidated BOOLEAN NOT NULL DEFAULT FALSE,
				consolidated_date TEXT NOT NULL DEFAULT '',
				enactment_date TEXT NOT NULL DEFAULT '',
				amended_bylaw TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS bylaw_sections (
				bylaw_number TEXT NOT NULL REFERENCES bylaws(number) ON DELETE CASCADE,
				section_id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				text TEXT NOT NULL,
				seq INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (bylaw_number, section_id)
			)`,
			`CREATE TABLE IF NOT EXISTS citation_feedback (
				id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
				bylaw_number TEXT NOT NULL,
				section_id TEXT NOT NULL DEFAULT '',
				query TEXT NOT NULL,
				rating TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
		}
	case "mysql":
		return []string{
			`CREATE TABLE IF NOT EXISTS bylaws (
				number VARCHAR(64) PRIMARY KEY,
				title TEXT NOT NULL,
				category VARCHAR(32) NOT NULL DEFAULT 'general',
				official_url VARCHAR(512) NOT NULL DEFAULT '',
				is_consolidated BOOLEAN NOT NULL DEFAULT FALSE,
				consolidated_date VARCHAR(32) NOT NULL DEFAULT '',
				enactment_date VARCHAR(32) NOT NULL DEFAULT '',
				amended_bylaw VARCHAR(64) NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS bylaw_sections (
				bylaw_number VARCHAR(64) NOT NULL,
				section_id VARCHAR(64) NOT NULL,
				title TEXT NOT NULL,
				text TEXT NOT NULL,
				seq INT NOT NULL DEFAULT 0,
				PRIMARY KEY (bylaw_number, section_id),
				FOREIGN KEY (bylaw_number) REFERENCES bylaws(number) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS citation_feedback (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				bylaw_number VARCHAR(64) NOT NULL,
				section_id VARCHAR(64) NOT NULL DEFAULT '',
				query TEXT NOT NULL,
				rating VARCHAR(16) NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
		}
	default: // sqlite3
		return []string{
			`CREATE TABLE IF NOT EXISTS bylaws (
				number TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				category TEXT NOT NULL DEFAULT 'general',
				official_url TEXT NOT NULL DEFAULT '',
				is_consolidated BOOLEAN NOT NULL DEFAULT FALSE,
				consolidated_date TEXT NOT NULL DEFAULT '',
				enactment_date TEXT NOT NULL DEFAULT '',
				amended_bylaw TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS bylaw_sections (
				bylaw_number TEXT NOT NULL REFERENCES bylaws(number) ON DELETE CASCADE,
				section_id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				text TEXT NOT NULL,
				seq INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (bylaw_number, section_id)
			)`,
			`CREATE TABLE IF NOT EXISTS citation_feedback (
				id INTEGER PRIMARY KEY,
				bylaw_number TEXT NOT NULL,
				section_id TEXT NOT NULL DEFAULT '',
				query TEXT NOT NULL,
				rating TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
		}
	}
}

// InitSchema creates the registry tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// GetBylaw looks up one bylaw by number.
func (s *Store) GetBylaw(ctx context.Context, number string) (*Bylaw, error) {
	query := s.rebind(`SELECT number, title, category, official_url, is_consolidated,
		consolidated_date, enactment_date, amended_bylaw
		FROM bylaws WHERE number = ?`)

	var b Bylaw
	var category string
	err := s.db.QueryRowContext(ctx, query, number).Scan(
		&b.Number, &b.Title, &category, &b.OfficialURL, &b.IsConsolidated,
		&b.ConsolidatedDate, &b.EnactmentDate, &b.AmendedBylaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bylaw %s: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bylaw %s: %w", number, err)
	}
	b.Category = bylaw.ParseCategory(category)
	return &b, nil
}

// UpsertBylaw inserts or replaces a registry record (used by indexing).
func (s *Store) UpsertBylaw(ctx context.Context, b Bylaw) error {
	del := s.rebind(`DELETE FROM bylaws WHERE number = ?`)
	if _, err := s.db.ExecContext(ctx, del, b.Number); err != nil {
		return fmt.Errorf("failed to replace bylaw %s: %w", b.Number, err)
	}

	ins := s.rebind(`INSERT INTO bylaws (number, title, category, official_url,
		is_consolidated, consolidated_date, enactment_date, amended_bylaw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, ins,
		b.Number, b.Title, string(b.Category), b.OfficialURL,
		b.IsConsolidated, b.ConsolidatedDate, b.EnactmentDate, b.AmendedBylaw,
	); err != nil {
		return fmt.Errorf("failed to insert bylaw %s: %w", b.Number, err)
	}
	return nil
}

// UpsertSection inserts or replaces one bylaw section.
func (s *Store) UpsertSection(ctx context.Context, sec Section) error {
	del := s.rebind(`DELETE FROM bylaw_sections WHERE bylaw_number = ? AND section_id = ?`)
	if _, err := s.db.ExecContext(ctx, del, sec.BylawNumber, sec.SectionID); err != nil {
		return fmt.Errorf("failed to replace section %s/%s: %w", sec.BylawNumber, sec.SectionID, err)
	}

	ins := s.rebind(`INSERT INTO bylaw_sections (bylaw_number, section_id, title, text, seq)
		VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, ins,
		sec.BylawNumber, sec.SectionID, sec.Title, sec.Text, sec.Seq,
	); err != nil {
		return fmt.Errorf("failed to insert section %s/%s: %w", sec.BylawNumber, sec.SectionID, err)
	}
	return nil
}

// GetSections returns all sections of a bylaw in document order.
func (s *Store) GetSections(ctx context.Context, number string) ([]Section, error) {
	query := s.rebind(`SELECT bylaw_number, section_id, title, text, seq
		FROM bylaw_sections WHERE bylaw_number = ? ORDER BY seq, section_id`)

	rows, err := s.db.QueryContext(ctx, query, number)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections for %s: %w", number, err)
	}
	defer rows.Close()

	var sections []Section
	for rows.Next() {
		var sec Section
		if err := rows.Scan(&sec.BylawNumber, &sec.SectionID, &sec.Title, &sec.Text, &sec.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sections: %w", err)
	}
	return sections, nil
}

// GetSection returns one section of a bylaw.
func (s *Store) GetSection(ctx context.Context, number, sectionID string) (*Section, error) {
	query := s.rebind(`SELECT bylaw_number, section_id, title, text, seq
		FROM bylaw_sections WHERE bylaw_number = ? AND section_id = ?`)

	var sec Section
	err := s.db.QueryRowContext(ctx, query, number, sectionID).Scan(
		&sec.BylawNumber, &sec.SectionID, &sec.Title, &sec.Text, &sec.Seq,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("section %s/%s: %w", number, sectionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query section %s/%s: %w", number, sectionID, err)
	}
	return &sec, nil
}

// FindSimilar returns bylaws whose numbers share a prefix with the given
// one, closest numbers first. Used to suggest related bylaws when a cited
// number is not in the registry.
func (s *Store) FindSimilar(ctx context.Context, number string, limit int) ([]Bylaw, error) {
	if limit <= 0 {
		limit = 3
	}

	prefix := number
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}

	query := s.rebind(`SELECT number, title, category, official_url, is_consolidated,
		consolidated_date, enactment_date, amended_bylaw
		FROM bylaws
		WHERE number LIKE ? AND number <> ?
		ORDER BY number
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, prefix+"%", number, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar bylaws: %w", err)
	}
	defer rows.Close()

	var bylaws []Bylaw
	for rows.Next() {
		var b Bylaw
		var category string
		if err := rows.Scan(&b.Number, &b.Title, &category, &b.OfficialURL,
			&b.IsConsolidated, &b.ConsolidatedDate, &b.EnactmentDate, &b.AmendedBylaw); err != nil {
			return nil, fmt.Errorf("failed to scan bylaw: %w", err)
		}
		b.Category = bylaw.ParseCategory(category)
		bylaws = append(bylaws, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bylaws: %w", err)
	}
	return bylaws, nil
}

// RecordFeedback appends one feedback row.
func (s *Store) RecordFeedback(ctx context.Context, fb Feedback) error {
	if !bylaw.ValidRating(fb.Rating) {
		return fmt.Errorf("invalid feedback rating: %s", fb.Rating)
	}
	if fb.BylawNumber == "" {
		return fmt.Errorf("bylaw number is required")
	}

	query := s.rebind(`INSERT INTO citation_feedback (bylaw_number, section_id, query, rating)
		VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		fb.BylawNumber, fb.SectionID, fb.Query, string(fb.Rating),
	); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
