// schema.go

package db

// Unified database table definitions.

// CreateAllTablesSQL creates every table used by the battle core.
const CreateAllTablesSQL = `
-- Players and their rating state
CREATE TABLE IF NOT EXISTS players (
    id VARCHAR(64) PRIMARY KEY,
    username VARCHAR(50) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,

    -- rating state
    rating INT DEFAULT 1000,
    rank VARCHAR(30) DEFAULT 'Seedling',
    total_games INT DEFAULT 0,
    total_wins INT DEFAULT 0,
    total_losses INT DEFAULT 0,
    current_streak INT DEFAULT 0,
    longest_streak INT DEFAULT 0,

    -- aggregate per-game statistics
    plants_identified INT DEFAULT 0,
    total_answers INT DEFAULT 0,
    total_response_ms BIGINT DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_players_rating ON players (rating DESC);

-- Rank achievements, appended whenever a player's rank label changes
CREATE TABLE IF NOT EXISTS rank_history (
    id SERIAL PRIMARY KEY,
    player_id VARCHAR(64) REFERENCES players(id) ON DELETE CASCADE,
    rank VARCHAR(30) NOT NULL,
    rating INT NOT NULL,
    achieved_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

-- Completed battle records
CREATE TABLE IF NOT EXISTS match_records (
    id VARCHAR(64) PRIMARY KEY,
    player_a VARCHAR(64) NOT NULL,
    player_b VARCHAR(64) NOT NULL,
    winner VARCHAR(64),
    score_a INT NOT NULL,
    score_b INT NOT NULL,
    rounds_played INT NOT NULL,
    difficulty VARCHAR(20) NOT NULL,
    forfeited BOOLEAN DEFAULT false,
    started_at TIMESTAMP WITH TIME ZONE,
    ended_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

-- Plant content served as round questions
CREATE TABLE IF NOT EXISTS plants (
    id SERIAL PRIMARY KEY,
    name VARCHAR(100) UNIQUE NOT NULL,
    image_ref VARCHAR(200) NOT NULL,
    fact TEXT NOT NULL,
    difficulty VARCHAR(20) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plants_difficulty ON plants (difficulty);
`
