package proximity

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// LineTable is the static station-name to line-list lookup, the first tier
// of the line-metadata cascade. Matching is substring in both directions so
// that "Clapham Junction Station" still hits a "Clapham Junction" key.
type LineTable struct {
	entries map[string][]string
}

// NewLineTable returns a table seeded with the built-in station data.
func NewLineTable() *LineTable {
	t := &LineTable{entries: make(map[string][]string, len(builtinLines))}
	for name, lines := range builtinLines {
		t.entries[normalizeStation(name)] = lines
	}
	return t
}

// LoadYAML merges a station-name to line-list mapping into the table.
// Loaded entries override built-ins with the same key.
func (t *LineTable) LoadYAML(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return eris.Wrap(err, "line table: read yaml")
	}
	var parsed map[string][]string
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return eris.Wrap(err, "line table: parse yaml")
	}
	for name, lines := range parsed {
		t.entries[normalizeStation(name)] = lines
	}
	return nil
}

// LoadXLSX merges the spreadsheet edition of the dataset: first sheet,
// column A station name, column B semicolon-separated line list. The header
// row is skipped.
func (t *LineTable) LoadXLSX(path string) error {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return eris.Wrapf(err, "line table: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return eris.Errorf("line table: %s has no sheets", path)
	}
	for i, row := range f.Sheets[0].Rows {
		if i == 0 || len(row.Cells) < 2 {
			continue
		}
		name := strings.TrimSpace(row.Cells[0].Value)
		if name == "" {
			continue
		}
		var lines []string
		for _, part := range strings.Split(row.Cells[1].Value, ";") {
			if p := strings.TrimSpace(part); p != "" {
				lines = append(lines, p)
			}
		}
		if len(lines) > 0 {
			t.entries[normalizeStation(name)] = lines
		}
	}
	return nil
}

// Match returns the line list for a station name, or nil when no entry
// matches. Substring matching runs both ways to tolerate name-format drift
// between providers ("Angel" vs "Angel Underground Station").
func (t *LineTable) Match(name string) []string {
	q := normalizeStation(name)
	if q == "" {
		return nil
	}
	if lines, ok := t.entries[q]; ok {
		return lines
	}
	for key, lines := range t.entries {
		if strings.Contains(q, key) || strings.Contains(key, q) {
			return lines
		}
	}
	return nil
}

func normalizeStation(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range []string{" underground station", " railway station", " rail station", " station"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return strings.Join(strings.Fields(s), " ")
}

// operatorPatterns is the last-resort tier for national-rail stations only:
// hard-coded operator guesses keyed by terminal-name fragments.
var operatorPatterns = []struct {
	fragment string
	lines    []string
}{
	{"king's cross", []string{"LNER", "Great Northern", "Thameslink"}},
	{"kings cross", []string{"LNER", "Great Northern", "Thameslink"}},
	{"st pancras", []string{"Thameslink", "East Midlands Railway", "Southeastern"}},
	{"paddington", []string{"Great Western Railway", "Elizabeth line"}},
	{"euston", []string{"Avanti West Coast", "London Northwestern Railway"}},
	{"liverpool street", []string{"Greater Anglia", "Elizabeth line"}},
	{"waterloo", []string{"South Western Railway"}},
	{"victoria", []string{"Southern", "Southeastern", "Gatwick Express"}},
	{"london bridge", []string{"Southern", "Southeastern", "Thameslink"}},
	{"charing cross", []string{"Southeastern"}},
	{"cannon street", []string{"Southeastern"}},
	{"fenchurch street", []string{"c2c"}},
	{"marylebone", []string{"Chiltern Railways"}},
	{"moorgate", []string{"Great Northern"}},
}

// operatorHeuristics guesses train operating companies from the station
// name. Returns nil when nothing matches.
func operatorHeuristics(name string) []string {
	q := normalizeStation(name)
	for _, p := range operatorPatterns {
		if strings.Contains(q, p.fragment) {
			return p.lines
		}
	}
	return nil
}
