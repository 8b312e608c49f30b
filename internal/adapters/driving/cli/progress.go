package cli

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// ingestProgress draws a progress bar from ingestion status updates.
type ingestProgress struct {
	w     io.Writer
	bar   *progressbar.ProgressBar
	total int
}

// newIngestProgress returns nil when w is not a terminal.
func newIngestProgress(w io.Writer) *ingestProgress {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return &ingestProgress{w: w}
}

// Update is a services.ProgressFunc.
func (p *ingestProgress) Update(status domain.IngestionStatus) {
	if status.DocumentsTotal <= 0 {
		return
	}
	if p.bar == nil || p.total != status.DocumentsTotal {
		p.total = status.DocumentsTotal
		p.bar = progressbar.NewOptions(status.DocumentsTotal,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("indexing"),
			progressbar.OptionSetWidth(32),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	_ = p.bar.Set(status.DocumentsProcessed)
	if status.DocumentsProcessed >= status.DocumentsTotal {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
