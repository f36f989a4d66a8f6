// provider.go

package plants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
)

// ErrProviderUnavailable marks a content provider failure after retries.
var ErrProviderUnavailable = errors.New("plant provider unavailable")

// Provider supplies candidate plants for a difficulty band.
type Provider interface {
	FetchCandidatePlants(ctx context.Context, band models.DifficultyBand) ([]models.PlantRecord, error)
}

// PostgresProvider serves plant content from the plants table.
type PostgresProvider struct {
	db *sql.DB
}

// NewPostgresProvider creates a plant provider backed by PostgreSQL.
func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

// FetchCandidatePlants returns a shuffled batch of plants in the band.
func (p *PostgresProvider) FetchCandidatePlants(ctx context.Context, band models.DifficultyBand) ([]models.PlantRecord, error) {
	const query = `
		SELECT id, name, image_ref, fact, difficulty
		FROM plants
		WHERE difficulty = $1
		ORDER BY random()
		LIMIT 32
	`

	rows, err := p.db.QueryContext(ctx, query, string(band))
	if err != nil {
		return nil, fmt.Errorf("query plants: %w", err)
	}
	defer rows.Close()

	var records []models.PlantRecord
	for rows.Next() {
		var rec models.PlantRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.ImageRef, &rec.Fact, &rec.Band); err != nil {
			return nil, fmt.Errorf("scan plant: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// StaticProvider serves a fixed plant set, used by seeding and tests.
type StaticProvider struct {
	Plants []models.PlantRecord
}

// FetchCandidatePlants filters the fixed set by band.
func (p *StaticProvider) FetchCandidatePlants(_ context.Context, band models.DifficultyBand) ([]models.PlantRecord, error) {
	var records []models.PlantRecord
	for _, rec := range p.Plants {
		if rec.Band == band {
			records = append(records, rec)
		}
	}
	return records, nil
}
