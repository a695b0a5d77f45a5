package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runAdminMigrate(t *testing.T, deps AdminMigrateDeps) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/migrate", nil)
	rec := httptest.NewRecorder()
	AdminMigrate(deps)(rec, req)
	return rec
}

func writeMigrationFile(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("write migration file: %v", err)
	}
}

func TestAdminMigrate_AppliesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeMigrationFile(t, dir, "002_second.up.sql", "SELECT 2;")
	writeMigrationFile(t, dir, "001_first.up.sql", "SELECT 1;")

	var applied []string
	deps := AdminMigrateDeps{
		MigrationsDir: dir,
		RunSQL: func(ctx context.Context, sql string) error {
			applied = append(applied, sql)
			return nil
		},
	}

	rec := runAdminMigrate(t, deps)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var env struct {
		Success bool                 `json:"success"`
		Data    AdminMigrateResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.Success {
		t.Fatalf("envelope.Success = false, body=%s", rec.Body.String())
	}
	if env.Data.Total != 2 || env.Data.Succeeded != 2 || env.Data.Failed != 0 {
		t.Errorf("response = %+v, want total=2 succeeded=2 failed=0", env.Data)
	}
	if len(applied) != 2 || applied[0] != "SELECT 1;" || applied[1] != "SELECT 2;" {
		t.Errorf("applied = %v, want [SELECT 1; SELECT 2;] in order", applied)
	}
}

func TestAdminMigrate_PartialFailureReturns207(t *testing.T) {
	dir := t.TempDir()
	writeMigrationFile(t, dir, "001_ok.up.sql", "SELECT 1;")
	writeMigrationFile(t, dir, "002_bad.up.sql", "BROKEN SQL;")

	deps := AdminMigrateDeps{
		MigrationsDir: dir,
		RunSQL: func(ctx context.Context, sql string) error {
			if strings.Contains(sql, "BROKEN") {
				return context.DeadlineExceeded
			}
			return nil
		},
	}

	rec := runAdminMigrate(t, deps)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207, body=%s", rec.Code, rec.Body.String())
	}

	var env struct {
		Success bool                 `json:"success"`
		Data    AdminMigrateResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Success {
		t.Error("envelope.Success = true, want false on partial failure")
	}
	if env.Data.Failed != 1 || env.Data.Succeeded != 1 {
		t.Errorf("response = %+v, want succeeded=1 failed=1", env.Data)
	}
}

func TestAdminMigrate_MissingDirReturns500(t *testing.T) {
	deps := AdminMigrateDeps{
		MigrationsDir: filepath.Join(t.TempDir(), "does-not-exist"),
		RunSQL:        func(ctx context.Context, sql string) error { return nil },
	}

	rec := runAdminMigrate(t, deps)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestAdminMigrate_EmptyDirSucceedsVacuously(t *testing.T) {
	deps := AdminMigrateDeps{
		MigrationsDir: t.TempDir(),
		RunSQL:        func(ctx context.Context, sql string) error { return nil },
	}

	rec := runAdminMigrate(t, deps)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdminMigrate_DefaultMigrationsDir(t *testing.T) {
	// MigrationsDir left empty falls back to "/migrations", which won't
	// exist in the test sandbox — exercises the fallback path, not success.
	deps := AdminMigrateDeps{
		RunSQL: func(ctx context.Context, sql string) error { return nil },
	}
	rec := runAdminMigrate(t, deps)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (no /migrations dir in test sandbox)", rec.Code)
	}
}
