package postgres

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestExtractGooseUp(t *testing.T) {
	src := "-- +goose Up\nCREATE TABLE a (id int);\nCREATE TABLE b (id int);\n\n-- +goose Down\nDROP TABLE b;\n"

	up, err := extractGooseUp(src)
	if err != nil {
		t.Fatalf("extractGooseUp error: %v", err)
	}
	got := splitSQLStatements(up)
	want := []string{"CREATE TABLE a (id int)", "CREATE TABLE b (id int)"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("statements = %q, want %q", got, want)
	}

	if _, err := extractGooseUp("CREATE TABLE a (id int);"); err == nil {
		t.Fatalf("expected error for missing up marker")
	}
}

func TestMigrationsDeclareSeatConstraint(t *testing.T) {
	dir, err := migrationsDir()
	if err != nil {
		t.Fatalf("migrationsDir error: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "0001_event_types_and_bookings.sql"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	up, err := extractGooseUp(string(b))
	if err != nil {
		t.Fatalf("extractGooseUp error: %v", err)
	}
	// translate relies on this name to tell seat replays from other unique violations.
	if !strings.Contains(up, seatUIDConstraint) {
		t.Fatalf("migration does not declare %s", seatUIDConstraint)
	}
	if strings.Contains(up, "DROP TABLE") {
		t.Fatalf("up section contains down statements")
	}
}
