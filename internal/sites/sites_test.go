package sites

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sample = `
sites:
  - site: MAN
    name: Manapouri
    units:
      - poc: MAN2201
        unit: MAN0
  - site: HLY
    name: Huntly
    units:
      - poc: HLY2201
        unit: HLY1
      - poc: HLY2201
        unit: HLY5
`

func TestLoadAndResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 keys, got %d", table.Len())
	}

	site, err := table.Resolve(Key("HLY2201", "HLY5"))
	if err != nil || site != "HLY" {
		t.Fatalf("Resolve = %q, %v", site, err)
	}

	if _, err := table.Resolve(Key("HLY2201", "HLY9")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key should return ErrNotFound, got %v", err)
	}
}

func TestParseRejectsConflicts(t *testing.T) {
	conflict := `
sites:
  - site: A
    units: [{poc: X, unit: U}]
  - site: B
    units: [{poc: X, unit: U}]
`
	if _, err := Parse([]byte(conflict)); err == nil {
		t.Fatal("a key claimed by two sites must fail")
	}

	if _, err := Parse([]byte("sites:\n  - name: nameless\n")); err == nil {
		t.Fatal("site without code must fail")
	}
}

func TestNewTableCopies(t *testing.T) {
	src := map[string]string{"A B": "S"}
	table := NewTable(src)
	src["A B"] = "changed"
	if site, _ := table.Resolve("A B"); site != "S" {
		t.Fatalf("table must not alias input map, got %q", site)
	}
}
