package analysis

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedProfiles(t *testing.T) {
	ps, err := LoadProfiles("")
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	std, err := ps.Select("")
	if err != nil {
		t.Fatalf("Select default: %v", err)
	}
	if std.Name != "standard" || std.Inaccuracy != 0.05 || std.Mistake != 0.10 || std.Blunder != 0.20 {
		t.Fatalf("unexpected standard profile: %+v", std)
	}
	coarse, err := ps.Select("coarse")
	if err != nil {
		t.Fatalf("Select coarse: %v", err)
	}
	if coarse.Blunder != 0.30 || coarse.K != -0.004 {
		t.Fatalf("unexpected coarse profile: %+v", coarse)
	}
	// Same swing, different verdicts.
	if std.Classify(0.25) != SeverityBlunder || coarse.Classify(0.25) != SeverityMistake {
		t.Fatalf("profiles should disagree on 0.25")
	}
	if _, err := ps.Select("nope"); err == nil {
		t.Fatalf("expected unknown profile error")
	}
}

func TestProfileOverrides(t *testing.T) {
	dir := t.TempDir()
	override := []byte("standard:\n  k: -0.005\n  inaccuracy: 0.06\n  mistake: 0.12\n  blunder: 0.25\nstrict:\n  k: -0.003\n  inaccuracy: 0.03\n  mistake: 0.06\n  blunder: 0.12\n")
	if err := os.WriteFile(filepath.Join(dir, "profiles.yaml"), override, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ps, err := LoadProfiles(dir)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	std, _ := ps.Select("standard")
	if std.Blunder != 0.25 || std.K != -0.005 {
		t.Fatalf("override not applied: %+v", std)
	}
	if _, err := ps.Select("strict"); err != nil {
		t.Fatalf("new profile missing: %v", err)
	}
	if _, err := ps.Select("coarse"); err != nil {
		t.Fatalf("embedded profile lost: %v", err)
	}
}

func TestProfileValidation(t *testing.T) {
	dir := t.TempDir()
	bad := []byte("broken:\n  k: 0.004\n  inaccuracy: 0.1\n  mistake: 0.2\n  blunder: 0.3\n")
	if err := os.WriteFile(filepath.Join(dir, "bad.yml"), bad, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadProfiles(dir); err == nil {
		t.Fatalf("expected validation error for positive k")
	}
	unordered := Profile{Name: "x", K: -0.004, Inaccuracy: 0.2, Mistake: 0.1, Blunder: 0.3}
	if err := unordered.Validate(); err == nil {
		t.Fatalf("expected validation error for unordered thresholds")
	}
}
