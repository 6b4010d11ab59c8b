package httpapi

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/trustvault/trustvault/internal/drift"
)

// driftHistoryCSV renders a page of health pings as CSV with a fixed
// column order, mirroring persona.HistoryCSV's shape for this resource.
func driftHistoryCSV(pings []*drift.HealthPing) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"id", "agent_id", "drift_score", "spikes", "created_at"}); err != nil {
		return nil, err
	}
	for _, p := range pings {
		row := []string{
			strconv.FormatInt(p.ID, 10),
			p.AgentID,
			strconv.FormatFloat(p.DriftScore, 'f', -1, 64),
			strings.Join(p.Spikes, ";"),
			p.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
