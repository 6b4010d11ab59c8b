package persona

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

// HistoryCSV renders history entries as CSV with the fixed column order
// id,agent_id,persona_hash,persona_version,changed_at.
func HistoryCSV(entries []*HistoryEntry) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	if err := w.Write([]string{"id", "agent_id", "persona_hash", "persona_version", "changed_at"}); err != nil {
		return "", err
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.AgentID,
			e.PersonaHash,
			e.PersonaVersion,
			e.ChangedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return b.String(), w.Error()
}
