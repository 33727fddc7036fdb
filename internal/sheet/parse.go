package sheet

import "strings"

// Record is one data row keyed by header name.
type Record map[string]string

// Get returns the trimmed value of field, "" when absent.
func (r Record) Get(field string) string {
	return r[field]
}

// Parse reads a published-sheet CSV export. The first row is the header;
// commas are hard separators (no quoting), every field is trimmed, missing
// trailing fields read as "", and blank lines are skipped.
func Parse(text string) []Record {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil
	}

	header := strings.Split(lines[0], ",")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	records := make([]Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		rec := make(Record, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			v := ""
			if i < len(fields) {
				v = strings.TrimSpace(fields[i])
			}
			rec[h] = v
		}
		records = append(records, rec)
	}
	return records
}

// Find returns the first record whose key field equals key, ignoring case
// and surrounding whitespace.
func Find(records []Record, keyField, key string) (Record, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	for _, r := range records {
		if strings.EqualFold(strings.TrimSpace(r[keyField]), key) {
			return r, true
		}
	}
	return nil, false
}
