package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationRunner executes a raw SQL string against the database.
type MigrationRunner func(ctx context.Context, sql string) error

// AdminMigrateDeps holds dependencies for the admin migration handler.
type AdminMigrateDeps struct {
	RunSQL        MigrationRunner
	MigrationsDir string
	// DBOwner is the role migrations should run as; used only to repair
	// table/enum ownership when AdminDatabaseURL is set. Defaults to
	// "ragbox_app" if empty.
	DBOwner string
	// AdminDatabaseURL, when set, connects as the Postgres superuser to fix
	// ownership on tables the application role doesn't own (e.g. after a
	// restore from a differently-owned dump) before migrations run.
	AdminDatabaseURL string
}

// MigrationResult reports the outcome of applying one migration file.
type MigrationResult struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AdminMigrateResponse is the POST /api/admin/migrate response body.
type AdminMigrateResponse struct {
	Total      int               `json:"total"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Migrations []MigrationResult `json:"migrations"`
}

const defaultDBOwner = "ragbox_app"

// fixTableOwnership transfers ownership of every table and enum type in the
// public schema to owner, connecting with a superuser URL. Used to repair
// ownership after a restore that left tables owned by a different role than
// the one migrations run as. Failures are logged and swallowed — migrations
// still attempt to run as the application role afterward.
func fixTableOwnership(ctx context.Context, adminURL, owner string) {
	slog.Info("handler.AdminMigrate: repairing table ownership", "owner", owner)
	adminPool, err := pgxpool.New(ctx, adminURL)
	if err != nil {
		slog.Warn("handler.AdminMigrate: admin connection failed, skipping ownership repair", "error", err)
		return
	}
	defer adminPool.Close()

	ownershipFix := fmt.Sprintf(`
		DO $$
		DECLARE obj RECORD;
		BEGIN
			FOR obj IN SELECT tablename FROM pg_tables WHERE schemaname = 'public'
			LOOP
				EXECUTE format('ALTER TABLE %%I OWNER TO %s', obj.tablename);
			END LOOP;
			FOR obj IN SELECT typname FROM pg_type t JOIN pg_namespace n ON t.typnamespace = n.oid WHERE n.nspname = 'public' AND t.typtype = 'e'
			LOOP
				EXECUTE format('ALTER TYPE %%I OWNER TO %s', obj.typname);
			END LOOP;
		END $$;
	`, owner, owner)

	if _, err := adminPool.Exec(ctx, ownershipFix); err != nil {
		slog.Warn("handler.AdminMigrate: ownership repair failed", "error", err)
		return
	}
	slog.Info("handler.AdminMigrate: table and enum ownership repaired", "owner", owner)
}

// AdminMigrate runs all *.up.sql migrations in MigrationsDir, in lexicographic
// (so numeric-prefix) order. Internal-auth-gated; called by the deploy
// pipeline, which has no end-user session to authenticate.
func AdminMigrate(deps AdminMigrateDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
		defer cancel()

		owner := deps.DBOwner
		if owner == "" {
			owner = defaultDBOwner
		}
		if adminURL := strings.TrimSpace(deps.AdminDatabaseURL); adminURL != "" {
			fixTableOwnership(ctx, adminURL, owner)
		}

		migrationsDir := deps.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = "/migrations"
		}

		entries, err := os.ReadDir(migrationsDir)
		if err != nil {
			slog.Error("handler.AdminMigrate: read migrations dir failed", "dir", migrationsDir, "error", err)
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: fmt.Sprintf("read migrations dir: %v", err)})
			return
		}

		var upFiles []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
				upFiles = append(upFiles, e.Name())
			}
		}
		sort.Strings(upFiles)

		results := make([]MigrationResult, 0, len(upFiles))
		succeeded, failed := 0, 0

		for _, filename := range upFiles {
			sqlBytes, err := os.ReadFile(filepath.Join(migrationsDir, filename))
			if err != nil {
				slog.Error("handler.AdminMigrate: read migration file failed", "file", filename, "error", err)
				results = append(results, MigrationResult{File: filename, Status: "error", Error: fmt.Sprintf("read file: %v", err)})
				failed++
				continue
			}

			if err := deps.RunSQL(ctx, string(sqlBytes)); err != nil {
				slog.Error("handler.AdminMigrate: migration failed", "file", filename, "error", err)
				results = append(results, MigrationResult{File: filename, Status: "error", Error: err.Error()})
				failed++
				continue
			}

			slog.Info("handler.AdminMigrate: migration applied", "file", filename)
			results = append(results, MigrationResult{File: filename, Status: "ok"})
			succeeded++
		}

		status := http.StatusOK
		if failed > 0 {
			status = http.StatusMultiStatus
		}
		respondJSON(w, status, envelope{Success: failed == 0, Data: AdminMigrateResponse{
			Total:      len(upFiles),
			Succeeded:  succeeded,
			Failed:     failed,
			Migrations: results,
		}})
	}
}
