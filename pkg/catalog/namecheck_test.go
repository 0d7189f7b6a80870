package catalog

import (
	"strings"
	"testing"
)

func TestComponentNameCheck(t *testing.T) {
	tests := []struct {
		name      string
		component string
		wantErr   bool
	}{
		{"simple", "monday", false},
		{"alphanumeric", "backup2024", false},
		{"punctuation", "auto-2024_01.15:00", false},
		{"spaces allowed", "before upgrade", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"slash", "a/b", true},
		{"at sign", "a@b", true},
		{"unicode", "snapé", true},
		{"newline", "a\nb", true},
		{"too long", strings.Repeat("a", 256), true},
		{"max length minus one", strings.Repeat("a", 255), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ComponentNameCheck(tt.component)
			if tt.wantErr && err == nil {
				t.Errorf("ComponentNameCheck(%q) = nil, want error", tt.component)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ComponentNameCheck(%q) = %v, want nil", tt.component, err)
			}
			if tt.wantErr && err != nil && !IsInvalidName(err) {
				t.Errorf("ComponentNameCheck(%q) error is not ErrInvalidName: %v", tt.component, err)
			}
		})
	}
}

func TestSnapshotName(t *testing.T) {
	full, err := SnapshotName("tank/data", "monday")
	if err != nil {
		t.Fatalf("SnapshotName: %v", err)
	}
	if full != "tank/data@monday" {
		t.Errorf("SnapshotName = %q, want %q", full, "tank/data@monday")
	}
}

func TestSnapshotNameTooLong(t *testing.T) {
	// Component passes on its own but the full name exceeds the limit.
	dataset := "tank/" + strings.Repeat("d", 200)
	component := strings.Repeat("s", 60)

	if _, err := SnapshotName(dataset, component); !IsInvalidName(err) {
		t.Errorf("SnapshotName with oversized total = %v, want ErrInvalidName", err)
	}
}

func TestSnapshotNameInvalidComponent(t *testing.T) {
	if _, err := SnapshotName("tank/data", "bad/name"); !IsInvalidName(err) {
		t.Errorf("SnapshotName with invalid component = %v, want ErrInvalidName", err)
	}
}

func TestSplitSnapshotName(t *testing.T) {
	tests := []struct {
		name          string
		full          string
		wantDataset   string
		wantComponent string
		wantErr       bool
	}{
		{"valid", "tank/data@monday", "tank/data", "monday", false},
		{"no separator", "tank/data", "", "", true},
		{"empty dataset", "@monday", "", "", true},
		{"empty component", "tank/data@", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, comp, err := SplitSnapshotName(tt.full)
			if tt.wantErr {
				if err == nil {
					t.Errorf("SplitSnapshotName(%q) = nil error, want error", tt.full)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitSnapshotName(%q): %v", tt.full, err)
			}
			if ds != tt.wantDataset || comp != tt.wantComponent {
				t.Errorf("SplitSnapshotName(%q) = (%q, %q), want (%q, %q)",
					tt.full, ds, comp, tt.wantDataset, tt.wantComponent)
			}
		})
	}
}
