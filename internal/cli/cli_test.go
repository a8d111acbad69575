package cli

import (
	"bytes"
	"path/filepath"
	"regexp"
	"testing"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"team", "agent", "repo", "task", "message", "human", "review", "session"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	if f := root.PersistentFlags().Lookup("home"); f == nil {
		t.Fatal("expected --home persistent flag")
	}
}

func TestCLI_TeamAddAndList(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	root := NewRootCmd("test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"--home", home, "team", "add", "--name", "acme"})
	if err := root.Execute(); err != nil {
		t.Fatalf("team add: %v\n%s", err, buf.String())
	}
	if !regexp.MustCompile(`(?i)created team`).MatchString(buf.String()) {
		t.Errorf("expected confirmation of team creation, got:\n%s", buf.String())
	}

	buf.Reset()
	root.SetArgs([]string{"--home", home, "team", "list"})
	if err := root.Execute(); err != nil {
		t.Fatalf("team list: %v\n%s", err, buf.String())
	}
	if !regexp.MustCompile(`acme`).MatchString(buf.String()) {
		t.Errorf("expected acme in team list, got:\n%s", buf.String())
	}
}

func TestCLI_TaskLifecycleThroughCommands(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	root := NewRootCmd("test")
	var buf bytes.Buffer
	root.SetOut(&buf)

	root.SetArgs([]string{"--home", home, "team", "add", "--name", "acme"})
	if err := root.Execute(); err != nil {
		t.Fatalf("team add: %v\n%s", err, buf.String())
	}
	teamID := extractTeamID(t, buf.String())

	buf.Reset()
	root.SetArgs([]string{"--home", home, "task", "add", "--team", teamID, "--title", "fix bug"})
	if err := root.Execute(); err != nil {
		t.Fatalf("task add: %v\n%s", err, buf.String())
	}
	if !regexp.MustCompile(`Created task #1`).MatchString(buf.String()) {
		t.Errorf("expected task creation output, got:\n%s", buf.String())
	}

	buf.Reset()
	root.SetArgs([]string{"--home", home, "task", "status", "1", "in_progress"})
	if err := root.Execute(); err != nil {
		t.Fatalf("task status: %v\n%s", err, buf.String())
	}
	if !regexp.MustCompile(`is now in_progress`).MatchString(buf.String()) {
		t.Errorf("expected status transition output, got:\n%s", buf.String())
	}

	buf.Reset()
	root.SetArgs([]string{"--home", home, "task", "comment", "1", "--author", "alice", "--content", "looking good"})
	if err := root.Execute(); err != nil {
		t.Fatalf("task comment: %v\n%s", err, buf.String())
	}
	if !regexp.MustCompile(`Recorded comment event`).MatchString(buf.String()) {
		t.Errorf("expected comment confirmation, got:\n%s", buf.String())
	}
}

func TestCLI_TaskAdd_RequiresTeamAndTitle(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	root := NewRootCmd("test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"--home", home, "task", "add"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error when --team and --title are missing")
	}
}

var teamIDRe = regexp.MustCompile(`Created team ".*" \((\S+)\)`)

func extractTeamID(t *testing.T, out string) string {
	t.Helper()
	m := teamIDRe.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("could not find team id in output:\n%s", out)
	}
	return m[1]
}
