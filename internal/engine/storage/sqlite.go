package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rendis/mapharvest/internal/model"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS businesses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		name TEXT NOT NULL,
		address TEXT,
		website TEXT,
		phone TEXT,
		email TEXT,
		review_count INTEGER,
		rating REAL,
		social_media TEXT,
		business_hours TEXT,
		categories TEXT,
		lat REAL,
		lng REAL,
		google_url TEXT,
		query TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(name, address, query)
	);
	CREATE INDEX IF NOT EXISTS idx_businesses_query ON businesses(query);
	CREATE INDEX IF NOT EXISTS idx_businesses_run ON businesses(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// InsertBatch stores businesses under runID, ignoring rows already present for
// the same query. It returns how many rows were new.
func (s *Store) InsertBatch(runID string, businesses []model.Business) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning tx: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO businesses
		(run_id, name, address, website, phone, email, review_count, rating,
		 social_media, business_hours, categories, lat, lng, google_url, query)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing stmt: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, b := range businesses {
		social, err := encodeJSON(b.SocialMedia)
		if err != nil {
			continue
		}
		categories, err := encodeJSON(b.Categories)
		if err != nil {
			continue
		}
		res, err := stmt.Exec(
			runID, b.Name, b.Address, b.URL, b.PhoneNumber, b.Email,
			b.ReviewsCount, b.ReviewsAverage, social, b.BusinessHours, categories,
			b.Lat, b.Lng, b.GoogleURL, b.Query,
		)
		if err != nil {
			continue
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing tx: %w", err)
	}

	return inserted, nil
}

// LoadAll returns every stored business in insertion order.
func (s *Store) LoadAll() ([]model.Business, error) {
	rows, err := s.db.Query(`
		SELECT name, address, website, phone, email, review_count, rating,
		       social_media, business_hours, categories, lat, lng, google_url, query
		FROM businesses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying businesses: %w", err)
	}
	defer rows.Close()

	var businesses []model.Business
	for rows.Next() {
		var (
			b                  model.Business
			address, website   sql.NullString
			phone, email       sql.NullString
			hours, googleURL   sql.NullString
			social, categories sql.NullString
			reviews            sql.NullInt64
			rating, lat, lng   sql.NullFloat64
		)
		if err := rows.Scan(
			&b.Name, &address, &website, &phone, &email, &reviews, &rating,
			&social, &hours, &categories, &lat, &lng, &googleURL, &b.Query,
		); err != nil {
			return nil, fmt.Errorf("scanning business: %w", err)
		}
		b.Address = address.String
		b.URL = website.String
		b.PhoneNumber = phone.String
		b.Email = email.String
		b.ReviewsCount = int(reviews.Int64)
		b.ReviewsAverage = rating.Float64
		b.BusinessHours = hours.String
		b.Lat, b.Lng = lat.Float64, lng.Float64
		b.GoogleURL = googleURL.String
		if social.Valid && social.String != "" {
			_ = json.Unmarshal([]byte(social.String), &b.SocialMedia)
		}
		if categories.Valid && categories.String != "" {
			_ = json.Unmarshal([]byte(categories.String), &b.Categories)
		}
		businesses = append(businesses, b)
	}
	return businesses, rows.Err()
}

func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM businesses").Scan(&count)
	return count, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeJSON(v any) (string, error) {
	switch x := v.(type) {
	case map[string]string:
		if len(x) == 0 {
			return "", nil
		}
	case []string:
		if len(x) == 0 {
			return "", nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
