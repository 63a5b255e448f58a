package db

import (
	"fmt"

	"gorm.io/gorm"

	"parking-occupancy-service/internal/config"
)

var postgresMigrations = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	// parking_spaces holds the durable space code, the current status and the
	// camera geometry drawn for the space.
	`CREATE TABLE IF NOT EXISTS parking_spaces (
		id          UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		space_code  TEXT NOT NULL,
		status      VARCHAR(16) NOT NULL DEFAULT 'unknown',
		floor       TEXT,
		x1          INT,
		y1          INT,
		x2          INT,
		y2          INT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_spaces_space_code ON parking_spaces(space_code);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_spaces_status ON parking_spaces(status);`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_parking_spaces_status') THEN
			ALTER TABLE parking_spaces ADD CONSTRAINT chk_parking_spaces_status
				CHECK (status IN ('free', 'occupied', 'unknown'));
		END IF;
	END
	$$;`,

	// occupancy_events is append-only: one row per observed status change.
	`CREATE TABLE IF NOT EXISTS occupancy_events (
		id               UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		parking_space_id UUID NOT NULL REFERENCES parking_spaces(id) ON DELETE CASCADE,
		space_code       TEXT NOT NULL,
		status           VARCHAR(16) NOT NULL,
		details          JSONB,
		occurred_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_occupancy_events_space_time ON occupancy_events(parking_space_id, occurred_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_occupancy_events_code_time ON occupancy_events(space_code, occurred_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_occupancy_events_occurred_at ON occupancy_events(occurred_at);`,
}

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS parking_spaces (
		id          CHAR(36) NOT NULL PRIMARY KEY,
		space_code  VARCHAR(64) NOT NULL,
		status      VARCHAR(16) NOT NULL DEFAULT 'unknown',
		floor       VARCHAR(64),
		x1          INT,
		y1          INT,
		x2          INT,
		y2          INT,
		created_at  DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at  DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		UNIQUE KEY ux_parking_spaces_space_code (space_code),
		KEY idx_parking_spaces_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,

	`CREATE TABLE IF NOT EXISTS occupancy_events (
		id               CHAR(36) NOT NULL PRIMARY KEY,
		parking_space_id CHAR(36) NOT NULL,
		space_code       VARCHAR(64) NOT NULL,
		status           VARCHAR(16) NOT NULL,
		details          JSON,
		occurred_at      DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		KEY idx_occupancy_events_space_time (parking_space_id, occurred_at),
		KEY idx_occupancy_events_code_time (space_code, occurred_at),
		CONSTRAINT fk_occupancy_events_space FOREIGN KEY (parking_space_id)
			REFERENCES parking_spaces(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,
}

func migrationsFor(driver string) ([]string, error) {
	switch driver {
	case config.DriverPostgres:
		return postgresMigrations, nil
	case config.DriverMySQL:
		return mysqlMigrations, nil
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
}

func runMigrations(db *gorm.DB, driver string) error {
	statements, err := migrationsFor(driver)
	if err != nil {
		return err
	}
	for i, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
