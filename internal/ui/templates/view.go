// Package templates renders the dashboard page and the fragments the SSE
// endpoints patch into it.
package templates

//go:generate templ generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/a-h/templ"

	"salesmerge/internal/models"
)

// DashboardView is everything the page shows for one session.
type DashboardView struct {
	Countries   []string
	Country     string
	TopN        int
	Records     []models.SalesRecord
	DisplayRows int
	Mapped      int
	Preview     []models.TopNRow
}

// Signals is the datastar signal set shared by the page and /sse/settings.
type Signals struct {
	Country string `json:"country"`
	TopN    int    `json:"topN"`
}

func signalsJSON(v DashboardView) string {
	b, err := json.Marshal(Signals{Country: v.Country, TopN: v.TopN})
	if err != nil {
		return "{}"
	}
	return string(b)
}

// visible returns the first limit records; limit 0 keeps them all.
func visible(records []models.SalesRecord, limit int) []models.SalesRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func rowCount(total, limit int) string {
	if limit > 0 && total > limit {
		return fmt.Sprintf("%d rows (showing first %d)", total, limit)
	}
	return fmt.Sprintf("%d rows", total)
}

// RenderString renders c into a string, as needed for SSE element patches.
func RenderString(ctx context.Context, c templ.Component) (string, error) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
