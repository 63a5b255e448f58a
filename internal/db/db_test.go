package db

import (
	"testing"

	"parking-occupancy-service/internal/config"
)

func TestDialect(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DBConfig
		want    string
		wantErr bool
	}{
		{name: "postgres from params", cfg: config.DBConfig{Driver: config.DriverPostgres, Host: "localhost", User: "admin", Name: "parkingdb", SSLMode: "disable"}, want: "postgres"},
		{name: "mysql from dsn", cfg: config.DBConfig{Driver: config.DriverMySQL, DSN: "parking:secret@tcp(localhost:3306)/parkingdb?parseTime=True"}, want: "mysql"},
		{name: "unsupported", cfg: config.DBConfig{Driver: "oracle"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialector, err := Dialect(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Dialect() error = %v", err)
			}
			if dialector.Name() != tt.want {
				t.Errorf("Dialect().Name() = %q, want %q", dialector.Name(), tt.want)
			}
		})
	}
}

func TestMigrationsFor(t *testing.T) {
	for _, driver := range []string{config.DriverPostgres, config.DriverMySQL} {
		statements, err := migrationsFor(driver)
		if err != nil {
			t.Fatalf("migrationsFor(%q) error = %v", driver, err)
		}
		if len(statements) == 0 {
			t.Fatalf("migrationsFor(%q) returned no statements", driver)
		}
	}
	if _, err := migrationsFor("sqlite"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
