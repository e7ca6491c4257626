// Package dashboard renders session state, aggregates and history for the
// terminal.
package dashboard

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/journal"
	"codeberg.org/mutker/posturectl/internal/session"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/time/rate"
)

// Layouts narrower than this stack the metric cards vertically.
const wideLayout = 80

const clearScreen = "\x1b[H\x1b[2J"

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle  = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	overallStyle   = lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))

	statusColors = map[analysis.Status]lipgloss.Color{
		analysis.StatusExcellent:        lipgloss.Color("#52C41A"),
		analysis.StatusGood:             lipgloss.Color("#FAAD14"),
		analysis.StatusNeedsImprovement: lipgloss.Color("#FF4D4F"),
	}

	phaseColors = map[session.Phase]lipgloss.Color{
		session.PhaseIdle:       lipgloss.Color("#8C8C8C"),
		session.PhaseConnecting: lipgloss.Color("#1890FF"),
		session.PhaseStreaming:  lipgloss.Color("#52C41A"),
		session.PhaseCompleted:  lipgloss.Color("#C89A3A"),
		session.PhaseError:      lipgloss.Color("#FF4D4F"),
	}
)

// Dashboard redraws the scorecard on a writer, at most rate times per
// second.
type Dashboard struct {
	out     io.Writer
	width   int
	clear   bool
	limiter *rate.Limiter

	mu sync.Mutex
}

// New returns a Dashboard. clear redraws in place with ANSI escapes; it
// should only be set for terminals.
func New(out io.Writer, redrawRate float64, width int, clear bool) *Dashboard {
	if redrawRate <= 0 {
		redrawRate = 1
	}
	return &Dashboard{
		out:     out,
		width:   width,
		clear:   clear,
		limiter: rate.NewLimiter(rate.Limit(redrawRate), 1),
	}
}

// Draw renders s unless the redraw budget is spent. force bypasses the
// budget for terminal states the user must see. It reports whether
// anything was written.
func (d *Dashboard) Draw(s session.State, force bool) (bool, error) {
	if !d.limiter.Allow() && !force {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	view := Scorecard(s, d.width)
	if d.clear {
		view = clearScreen + view
	}
	if _, err := io.WriteString(d.out, view+"\n"); err != nil {
		return false, err
	}
	return true, nil
}

// Scorecard renders the session state.
func Scorecard(s session.State, width int) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Posture analysis"))
	b.WriteString("  ")
	b.WriteString(phaseLine(s))
	b.WriteString("\n")

	if s.File != "" {
		b.WriteString(mutedStyle.Render("file: " + s.File))
		b.WriteString("\n")
	}
	if s.Err != nil {
		b.WriteString(errorStyle.Render("error: " + s.Err.Error()))
		b.WriteString("\n")
	}

	overall := fmt.Sprintf("%s\n%s", cardTitleStyle.Render("Overall"), scoreText(s.Snapshot.OverallScore))
	if s.Snapshot.Prediction != "" {
		overall += "\n" + mutedStyle.Render("prediction: ") + s.Snapshot.Prediction
	}
	b.WriteString(overallStyle.Render(overall))
	b.WriteString("\n")

	cards := make([]string, 0, len(s.Snapshot.Metrics))
	for _, name := range s.Snapshot.Names() {
		cards = append(cards, metricCard(name, s.Snapshot.Metrics[name]))
	}
	if len(cards) > 0 {
		if width < wideLayout {
			b.WriteString(lipgloss.JoinVertical(lipgloss.Left, cards...))
		} else {
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
		}
		b.WriteString("\n")
	}

	footer := "no frame"
	if n := len(s.Frame); n > 0 {
		footer = fmt.Sprintf("frame %.1f KiB", float64(n)/1024)
	}
	b.WriteString(mutedStyle.Render(footer + "  " + s.UpdatedAt.Format(time.TimeOnly)))
	return b.String()
}

func phaseLine(s session.State) string {
	label := s.Phase.String()
	if s.Source != session.SourceNone {
		label += " (" + string(s.Source) + ")"
	}
	style := lipgloss.NewStyle().Foreground(phaseColors[s.Phase])
	return style.Render("● " + label)
}

func metricCard(name string, m analysis.Metric) string {
	value := lipgloss.NewStyle().Foreground(statusColors[m.Status]).Bold(true).
		Render(fmt.Sprintf("%.1f", m.Score))
	content := fmt.Sprintf("%s\n%s\n%s", cardTitleStyle.Render(name), value, mutedStyle.Render(string(m.Status)))
	return cardStyle.Render(content)
}

func scoreText(score float64) string {
	return lipgloss.NewStyle().Foreground(statusColors[analysis.StatusFor(score)]).Bold(true).
		Render(fmt.Sprintf("%.1f", score))
}

// Stats renders the backend's aggregates.
func Stats(st analysis.AggregateStats) string {
	if !st.HasAnalyzed && st.AnalysisCount == 0 {
		return mutedStyle.Render("No analyses yet")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %d\n", cardTitleStyle.Render("Analyses:"), st.AnalysisCount)
	fmt.Fprintf(&b, "%s %s\n", cardTitleStyle.Render("Average score:"), scoreText(st.AverageScore))
	if st.BestMetric.Name != "" {
		fmt.Fprintf(&b, "%s %s (%.1f)\n", cardTitleStyle.Render("Best metric:"), st.BestMetric.Name, st.BestMetric.Score)
	}
	if len(st.Recommendations) > 0 {
		b.WriteString(titleStyle.Render("Recommendations"))
		b.WriteString("\n")
		for _, r := range st.Recommendations {
			fmt.Fprintf(&b, "  • %s: %s\n", r.Title, r.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// History renders up to limit records, most recent first.
func History(records []analysis.HistoryRecord, limit int) string {
	if len(records) == 0 {
		return mutedStyle.Render("No history")
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	rows := make([]string, 0, len(records)+1)
	rows = append(rows, mutedStyle.Render(fmt.Sprintf("%-20s %7s  %s", "TIME", "SCORE", "PREDICTION")))
	for _, r := range records {
		ts := "-"
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.Local().Format(time.DateTime)
		}
		rows = append(rows, fmt.Sprintf("%-20s %7.1f  %s", ts, r.Score, orDash(r.Prediction)))
	}
	return strings.Join(rows, "\n")
}

// Journal renders local journal entries.
func Journal(entries []journal.Entry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("Journal is empty")
	}

	rows := make([]string, 0, len(entries)+1)
	rows = append(rows, mutedStyle.Render(fmt.Sprintf("%-20s %-10s %7s  %-10s %s", "TIME", "SOURCE", "SCORE", "PREDICTION", "SAVED")))
	for _, e := range entries {
		saved := "no"
		if e.Persisted {
			saved = "yes"
		}
		rows = append(rows, fmt.Sprintf("%-20s %-10s %7.1f  %-10s %s",
			e.Timestamp.Local().Format(time.DateTime), e.Source, e.Snapshot.OverallScore,
			orDash(e.Snapshot.Prediction), saved))
	}
	return strings.Join(rows, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
