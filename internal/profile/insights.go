package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/persona/internal/storage"
)

// Insight types, in the order GenerateInsights emits them.
const (
	InsightInterests     = "Interests"
	InsightRelationships = "Relationships"
	InsightTasks         = "Tasks"
)

// maxInsightInterests caps how many interests are named in the description.
const maxInsightInterests = 5

// Insight is a short, human-readable observation about a profile. Insights
// are computed on request and never stored.
type Insight struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Data        map[string]any `json:"data"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// GenerateInsights emits at most one insight per category, skipping empty
// categories. Order is fixed: interests, relationships, tasks.
func GenerateInsights(p storage.UserPreferences, now time.Time) []Insight {
	var out []Insight

	if n := len(p.Interests); n > 0 {
		named := p.Interests[:min(n, maxInsightInterests)]
		out = append(out, Insight{
			Type:        InsightInterests,
			Description: fmt.Sprintf("You have %d identified interests: %s", n, strings.Join(named, ", ")),
			Confidence:  0.8,
			Data:        map[string]any{"interests": p.Interests},
			GeneratedAt: now,
		})
	}

	if n := len(p.Relationships); n > 0 {
		out = append(out, Insight{
			Type:        InsightRelationships,
			Description: fmt.Sprintf("You have %d identified relationships", n),
			Confidence:  0.9,
			Data:        map[string]any{"relationships": p.Relationships},
			GeneratedAt: now,
		})
	}

	if len(p.Tasks) > 0 {
		pending := storage.TaskList(p.Tasks).Pending()
		out = append(out, Insight{
			Type:        InsightTasks,
			Description: fmt.Sprintf("You have %d pending tasks", len(pending)),
			Confidence:  1.0,
			Data:        map[string]any{"pending_tasks": len(pending)},
			GeneratedAt: now,
		})
	}

	return out
}
