package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// theme is the colour palette for terminal output.
type theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Muted     lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Border    lipgloss.Color
}

func defaultTheme() theme {
	return theme{
		Primary:   lipgloss.Color("#7C3AED"), // Purple
		Secondary: lipgloss.Color("#06B6D4"), // Cyan
		Muted:     lipgloss.Color("#6C7086"), // Medium gray
		Success:   lipgloss.Color("#A6E3A1"), // Green
		Warning:   lipgloss.Color("#F9E2AF"), // Yellow
		Error:     lipgloss.Color("#F38BA8"), // Red
		Border:    lipgloss.Color("#45475A"), // Border gray
	}
}

// styles holds the lipgloss styles used by the renderer.
type styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
}

// newStyles returns coloured styles, or unstyled ones when plain is set.
func newStyles(plain bool) styles {
	if plain {
		s := lipgloss.NewStyle()
		return styles{Title: s, Subtitle: s, Muted: s, Success: s, Warning: s, Error: s, Box: s}
	}

	t := defaultTheme()
	return styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Subtitle: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary),
		Muted:    lipgloss.NewStyle().Foreground(t.Muted),
		Success:  lipgloss.NewStyle().Foreground(t.Success),
		Warning:  lipgloss.NewStyle().Foreground(t.Warning),
		Error:    lipgloss.NewStyle().Foreground(t.Error),
		Box: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(0, 1),
	}
}

// renderer writes human-readable results. Colour and wrapping are only
// applied when writing to a terminal.
type renderer struct {
	w      io.Writer
	styles styles
	width  int
}

func newRenderer(w io.Writer) *renderer {
	tty, width := terminalInfo(w)
	return &renderer{w: w, styles: newStyles(!tty), width: width}
}

// terminalInfo reports whether w is a terminal and its width.
func terminalInfo(w io.Writer) (bool, int) {
	f, ok := w.(*os.File)
	if !ok {
		return false, 0
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return false, 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return true, 0
	}
	return true, width
}

func (r *renderer) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

// Answer prints an answer with its citations and sources.
func (r *renderer) Answer(result *domain.AnswerResult) {
	meta := []string{fmt.Sprintf("%dms", result.ResponseTimeMS())}
	if result.Cached {
		meta = append([]string{"cached"}, meta...)
	}
	meta = append(meta, fmt.Sprintf("confidence %.2f", result.Confidence))

	r.printf("%s %s\n", r.styles.Title.Render("Answer"), r.styles.Muted.Render("("+strings.Join(meta, ", ")+")"))

	body := r.styles.Box
	if r.width > 4 {
		body = body.Width(r.width - 4)
	}
	answer := result.Answer
	if result.Abstained {
		answer = r.styles.Warning.Render(answer)
	}
	r.printf("%s\n", body.Render(answer))

	if len(result.Citations) > 0 {
		r.printf("\n%s\n", r.styles.Subtitle.Render("Citations"))
		for i, c := range result.Citations {
			section := c.Section
			if section == "" {
				section = "(no section)"
			}
			r.printf("  [%d] %s %s\n", i+1, section,
				r.styles.Muted.Render(fmt.Sprintf("chunk %s", c.ChunkID)))
		}
	}

	if len(result.Sources) > 0 {
		r.printf("\n%s\n", r.styles.Subtitle.Render("Sources"))
		for _, s := range result.Sources {
			label := s.Document
			if s.PolicyID != "" {
				label += " (" + s.PolicyID + ")"
			}
			r.printf("  %s %s\n", label, r.styles.Muted.Render(fmt.Sprintf("similarity %.2f", s.Similarity)))
			if s.Text != "" {
				r.printf("    %s\n", r.styles.Muted.Render(oneLine(s.Text)))
			}
		}
	}
}

// Report prints an ingestion report.
func (r *renderer) Report(report *domain.IngestionReport) {
	r.printf("%s\n", r.styles.Title.Render("Ingestion"))
	r.printf("  Documents: %d added, %d updated, %d skipped, %d failed",
		report.Added, report.Updated, report.Skipped, report.Failed)
	if report.Removed > 0 {
		r.printf(", %d removed", report.Removed)
	}
	r.printf("\n")
	r.printf("  Chunks:    %d added, %d replaced, %d deleted, %d unchanged\n",
		report.ChunksAdded, report.ChunksReplaced, report.ChunksDeleted, report.ChunksUnchanged)

	if len(report.InvalidatedPolicies) > 0 {
		r.printf("  Cache invalidated for: %s\n", strings.Join(report.InvalidatedPolicies, ", "))
	}
	for _, f := range report.Failures {
		name := f.URI
		if name == "" {
			name = f.DocumentID
		}
		r.printf("  %s %s: %s\n", r.styles.Error.Render("failed"), name, f.Error)
	}
}

// Stats prints cache and cost statistics.
func (r *renderer) Stats(stats *domain.QueryStats) {
	c := stats.Cache
	r.printf("%s\n", r.styles.Title.Render("Cache"))
	r.printf("  Hits:      %d\n", c.Hits)
	r.printf("  Misses:    %d\n", c.Misses)
	r.printf("  Hit rate:  %.1f%%\n", c.HitRate*100)
	r.printf("  Items:     %d\n", c.Items)

	cost := stats.Cost
	r.printf("\n%s\n", r.styles.Title.Render("Cost"))
	r.printf("  Model:          %s\n", cost.Model)
	r.printf("  Requests:       %d (%d cached, %d API calls)\n", cost.TotalRequests, cost.CachedRequests, cost.APICalls)
	r.printf("  Tokens:         %d in, %d out\n", cost.TotalInputTokens, cost.TotalOutputTokens)
	r.printf("  Cost:           $%.4f\n", cost.TotalCostUSD)
	r.printf("  Without cache:  $%.4f\n", cost.CostWithoutCacheUSD)
	r.printf("  Savings:        %s\n",
		r.styles.Success.Render(fmt.Sprintf("$%.4f (%.1f%%)", cost.SavingsUSD, cost.SavingsPercent)))
}

// Policies prints indexed policy summaries.
func (r *renderer) Policies(policies []domain.PolicySummary) {
	r.printf("%s\n", r.styles.Title.Render("Policies"))
	if len(policies) == 0 {
		r.printf("  %s\n", r.styles.Muted.Render("nothing indexed yet, run 'policyqa reindex'"))
		return
	}
	for _, p := range policies {
		r.printf("  %-16s %d documents, %d chunks %s\n", p.PolicyID, p.Documents, p.Chunks,
			r.styles.Muted.Render("indexed "+p.IndexedAt.Local().Format("2006-01-02 15:04")))
	}
}

// oneLine collapses whitespace so a preview fits on one line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
