package chat

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	shortDate    = "Jan 02"
	longDate     = "Jan 02, 2006"
	longDateTime = "Jan 02, 2006 15:04"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatFileSize renders a byte count with binary units and at most two
// decimals, e.g. 1536 -> "1.5 KB".
func FormatFileSize(bytes int64) string {
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	return strconv.FormatFloat(math.Round(size*100)/100, 'f', -1, 64) + " " + sizeUnits[unit]
}

// builder accumulates a markdown-ish reply.
type builder struct {
	strings.Builder
}

func (b *builder) line(format string, args ...any) {
	fmt.Fprintf(b, format, args...)
	b.WriteByte('\n')
}

func (b *builder) bullet(format string, args ...any) {
	b.WriteString("• ")
	b.line(format, args...)
}

func (b *builder) heading(title string) {
	b.line("**%s**", title)
}

func dueLabel(t *time.Time) string {
	if t == nil {
		return "No due date"
	}
	return t.UTC().Format(shortDate)
}

func withOrganization(name string, org string) string {
	if org == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, org)
}
