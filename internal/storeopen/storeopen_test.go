package storeopen

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/deepampatel/foreman/pkg/models"
)

func TestOpen_FallsBackToSqliteWhenNoDatabaseURL(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")

	home := filepath.Join(t.TempDir(), "home")
	st, err := Open(context.Background(), home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	team, err := st.CreateTeam(context.Background(), models.Team{Name: "acme"})
	if err != nil {
		t.Fatalf("CreateTeam against fallback store: %v", err)
	}
	if team.ID == "" {
		t.Fatal("expected a generated team id")
	}
}
