package world

import "testing"

func TestRegionTable(t *testing.T) {
	t.Parallel()

	tbl, err := ParseRegionTable([]byte(`
- id: meadow
  min_x: 0
  min_y: 0
  max_x: 100
  max_y: 100
- id: wastes
  min_x: 100
  min_y: 0
  max_x: 200
  max_y: 100
`))
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Count() != 2 {
		t.Fatalf("count = %d", tbl.Count())
	}
	cases := map[Position]string{
		{0, 0}:     "meadow",
		{99.9, 50}: "meadow",
		{100, 50}:  "wastes",
		{250, 50}:  "",
	}
	for p, want := range cases {
		if got := tbl.RegionOf(p); got != want {
			t.Errorf("RegionOf(%v) = %q, want %q", p, got, want)
		}
	}
}

func TestRegionTableRejectsBadInput(t *testing.T) {
	t.Parallel()

	for name, raw := range map[string]string{
		"missing id": "- {min_x: 0, min_y: 0, max_x: 1, max_y: 1}",
		"duplicate":  "- {id: a, min_x: 0, min_y: 0, max_x: 1, max_y: 1}\n- {id: a, min_x: 0, min_y: 0, max_x: 1, max_y: 1}",
		"empty":      "- {id: a, min_x: 1, min_y: 0, max_x: 1, max_y: 1}",
		"not yaml":   "{{{",
	} {
		if _, err := ParseRegionTable([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestNilRegionTable(t *testing.T) {
	t.Parallel()

	var tbl *RegionTable
	if tbl.RegionOf(Position{}) != "" || tbl.Count() != 0 {
		t.Fatal("nil table should resolve nothing")
	}
}
