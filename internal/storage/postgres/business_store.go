package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// BusinessStore implements scrape.BusinessStore on Postgres. The unique
// (job_id, business_name, website, city, source) constraint provides the
// per-job dedup.
type BusinessStore struct {
	db DB
}

// NewBusinessStore constructs a BusinessStore over an existing pool.
func NewBusinessStore(db DB) *BusinessStore {
	return &BusinessStore{db: db}
}

// Save inserts the business; duplicates return false without error.
func (s *BusinessStore) Save(ctx context.Context, b scrape.Business) (bool, error) {
	query := `
		INSERT INTO businesses (job_id, business_name, website, city, source, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, business_name, website, city, source) DO NOTHING;
	`
	res, err := s.db.Exec(ctx, query, b.JobID, b.Name, b.Website, b.City, b.Source, b.ScrapedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("save business: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// Count returns the number of businesses stored for the job.
func (s *BusinessStore) Count(ctx context.Context, jobID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM businesses WHERE job_id = $1;`
	if err := s.db.QueryRow(ctx, query, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count businesses: %w", err)
	}
	return count, nil
}

// List returns all businesses for the job ordered by city then name.
func (s *BusinessStore) List(ctx context.Context, jobID string) ([]scrape.Business, error) {
	query := `
		SELECT job_id, business_name, website, city, source, scraped_at
		FROM businesses
		WHERE job_id = $1
		ORDER BY city, business_name;
	`
	rows, err := s.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()

	var out []scrape.Business
	for rows.Next() {
		var b scrape.Business
		if err := rows.Scan(&b.JobID, &b.Name, &b.Website, &b.City, &b.Source, &b.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scan business row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate business rows: %w", err)
	}
	return out, nil
}
