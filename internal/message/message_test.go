package message

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/deepampatel/foreman/internal/coreerr"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/store/sqlite"
	"github.com/deepampatel/foreman/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustTeam(t *testing.T, st store.Store) models.Team {
	t.Helper()
	team, err := st.CreateTeam(context.Background(), models.Team{Name: "acme"})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	return team
}

func TestSend_RequiresContent(t *testing.T) {
	bus := New(newTestStore(t))
	_, err := bus.Send(context.Background(), models.Message{})
	if !errors.Is(err, coreerr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSend_And_Inbox(t *testing.T) {
	st := newTestStore(t)
	bus := New(st)
	team := mustTeam(t, st)

	sent, err := bus.Send(context.Background(), models.Message{
		TeamID:        team.ID,
		SenderID:      "agent-1",
		SenderType:    models.PartyAgent,
		RecipientID:   "agent-2",
		RecipientType: models.PartyAgent,
		Content:       "please review",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	inbox, err := bus.Inbox(context.Background(), team.ID, "agent-2", false, 10)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].ID != sent.ID {
		t.Fatalf("Inbox = %+v, want one message with id %d", inbox, sent.ID)
	}
}

func TestInbox_UnprocessedFilter(t *testing.T) {
	st := newTestStore(t)
	bus := New(st)
	team := mustTeam(t, st)

	sent, err := bus.Send(context.Background(), models.Message{
		TeamID: team.ID, SenderID: "a", SenderType: models.PartyAgent,
		RecipientID: "b", RecipientType: models.PartyAgent, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := bus.MarkSeen(context.Background(), sent.ID); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if err := bus.MarkProcessed(context.Background(), sent.ID); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	unprocessed, err := bus.Inbox(context.Background(), team.ID, "b", true, 10)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(unprocessed) != 0 {
		t.Fatalf("unprocessed = %+v, want empty after MarkProcessed", unprocessed)
	}
}
