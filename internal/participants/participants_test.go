package participants

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGroupOfFallsBackToPrefix(t *testing.T) {
	svc, err := NewWithRepo(nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	cases := map[string]string{"E01": GroupEmotion, "N07": GroupNeutral, "X1": "", "": ""}
	for id, want := range cases {
		if got := svc.GroupOf(id); got != want {
			t.Fatalf("GroupOf(%q) = %q, want %q", id, got, want)
		}
	}
	if err := svc.Upsert(Participant{ID: "E01", Group: "neutral"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if svc.GroupOf("E01") != GroupNeutral {
		t.Fatalf("registry must win over the prefix")
	}
}

func TestUpsertValidates(t *testing.T) {
	svc, _ := NewWithRepo(nil)
	if err := svc.Upsert(Participant{ID: "", Group: "EMO"}); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if err := svc.Upsert(Participant{ID: "P1", Group: "control"}); err == nil {
		t.Fatalf("expected error for unknown group")
	}
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "data", "participants.json")
	repo, err := NewFileRepository(p)
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	svc, err := NewWithRepo(repo)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_ = svc.Upsert(Participant{ID: "N02", Group: "NEU"})
	_ = svc.Upsert(Participant{ID: "E01", Group: "e"})
	_ = svc.Upsert(Participant{ID: "E03", Group: "EMO"})
	if err := svc.Remove("E03"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	reloaded, err := NewWithRepo(repo)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	list := reloaded.List()
	if len(list) != 2 || list[0].ID != "E01" || list[0].Group != GroupEmotion || list[1].ID != "N02" {
		t.Fatalf("unexpected registry %+v", list)
	}
}

func TestFileRepositoryMalformedStartsEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "participants.json")
	if err := os.WriteFile(p, []byte("{oops"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo, _ := NewFileRepository(p)
	list, err := repo.LoadAll()
	if err != nil || len(list) != 0 {
		t.Fatalf("malformed file should read as empty, got %v %v", list, err)
	}
}
