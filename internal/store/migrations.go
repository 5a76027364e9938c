package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per trash hunt round
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			difficulty TEXT NOT NULL CHECK(difficulty IN ('easy', 'normal', 'hard')),
			max_seconds INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			elapsed_seconds INTEGER NOT NULL DEFAULT 0,
			timed_out INTEGER NOT NULL DEFAULT 0,
			grade TEXT NOT NULL DEFAULT ''
		)`,

		// Catches table - the detection that ended a round
		`CREATE TABLE IF NOT EXISTS session_catches (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			confidence REAL NOT NULL,
			x1 REAL NOT NULL,
			y1 REAL NOT NULL,
			x2 REAL NOT NULL,
			y2 REAL NOT NULL
		)`,

		// Leaderboard lookups filter finished rounds by target and difficulty
		`CREATE INDEX IF NOT EXISTS idx_sessions_leaderboard
			ON sessions(target, difficulty, elapsed_seconds) WHERE finished_at IS NOT NULL`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
