package combatlog

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strings"
)

// Marker is a recognised combat log event.
type Marker struct {
	Kind        string
	EncounterID string
	Encounter   string
	Difficulty  string
	GroupSize   string
	Success     bool
}

const (
	encounterStart = "ENCOUNTER_START"
	encounterEnd   = "ENCOUNTER_END"
)

// ParseLine extracts an encounter marker from one log line. Lines look like
//
//	4/14/2026 20:01:02.1230  ENCOUNTER_START,2820,"Gnarlroot",16,20,2549
//
// Anything other than a well formed encounter marker reports false.
func ParseLine(line string) (Marker, bool) {
	line = strings.TrimRight(line, "\r\n")
	i := strings.Index(line, "  ")
	if i < 0 {
		return Marker{}, false
	}
	payload := line[i+2:]
	if !strings.HasPrefix(payload, encounterStart) && !strings.HasPrefix(payload, encounterEnd) {
		return Marker{}, false
	}

	r := csv.NewReader(strings.NewReader(payload))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil || len(fields) < 5 {
		return Marker{}, false
	}
	m := Marker{
		Kind:        fields[0],
		EncounterID: fields[1],
		Encounter:   fields[2],
		Difficulty:  fields[3],
		GroupSize:   fields[4],
	}
	if m.Kind == encounterEnd {
		if len(fields) < 6 {
			return Marker{}, false
		}
		m.Success = fields[5] == "1"
	}
	return m, true
}

// Hash identifies an encounter attempt independently of who recorded it.
// Two players logging the same pull produce the same hash; so do repeat
// pulls of the same boss, which is why correlation also compares start
// times.
func (m Marker) Hash() string {
	sum := sha256.Sum256([]byte(m.EncounterID + "|" + m.Difficulty + "|" + m.GroupSize))
	return hex.EncodeToString(sum[:8])
}
