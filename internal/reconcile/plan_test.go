package reconcile

import (
	"testing"
	"time"
)

var planStamp = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestBackupPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"with extension", "notes.txt", "notes__20240102030405.txt"},
		{"no extension", "README", "README__20240102030405"},
		{"nested path", "week1/lab.ipynb", "week1/lab__20240102030405.ipynb"},
		{"dotfile", ".gitignore", ".gitignore__20240102030405"},
		{"nested dotfile", "week1/.env", "week1/.env__20240102030405"},
		{"multiple dots", "data.tar.gz", "data.tar__20240102030405.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BackupPath(tt.path, planStamp); got != tt.want {
				t.Errorf("BackupPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestBuildPlanModifiedAlwaysRenamed(t *testing.T) {
	plan := BuildPlan([]string{"notes.txt", "lab.ipynb"}, nil, nil, nil, planStamp)
	if len(plan.Renames) != 2 {
		t.Fatalf("renames = %v, want 2 entries", plan.Renames)
	}
	if plan.Renames[0].From != "notes.txt" || plan.Renames[0].To != "notes__20240102030405.txt" {
		t.Errorf("first rename = %+v", plan.Renames[0])
	}
	if len(plan.Restores) != 0 {
		t.Errorf("restores = %v, want none", plan.Restores)
	}
}

func TestBuildPlanUntrackedOnlyOnCollision(t *testing.T) {
	untracked := []string{"scratch.txt", "new.py"}
	upstreamAdded := []string{"new.py", "extra.md"}
	plan := BuildPlan(nil, untracked, upstreamAdded, nil, planStamp)

	if len(plan.Renames) != 1 {
		t.Fatalf("renames = %v, want only the colliding path", plan.Renames)
	}
	if plan.Renames[0].From != "new.py" {
		t.Errorf("renamed %q, want new.py", plan.Renames[0].From)
	}
}

func TestBuildPlanDeduplicates(t *testing.T) {
	// A file can show up both as modified and as an untracked collision
	// candidate; it must be renamed once.
	plan := BuildPlan([]string{"lab.py"}, []string{"lab.py"}, []string{"lab.py"}, nil, planStamp)
	if len(plan.Renames) != 1 {
		t.Errorf("renames = %v, want single entry", plan.Renames)
	}
}

func TestBuildPlanRestoresDeleted(t *testing.T) {
	plan := BuildPlan(nil, nil, nil, []string{"gone.txt", "", "also-gone.md"}, planStamp)
	if len(plan.Restores) != 2 {
		t.Fatalf("restores = %v, want 2 entries", plan.Restores)
	}
	if plan.Restores[0] != "gone.txt" || plan.Restores[1] != "also-gone.md" {
		t.Errorf("restores = %v", plan.Restores)
	}
}

func TestPlanEmpty(t *testing.T) {
	if !(Plan{}).Empty() {
		t.Error("zero plan is not empty")
	}
	if (Plan{Restores: []string{"a"}}).Empty() {
		t.Error("plan with restores reported empty")
	}
}
