package console

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/tbcv/engine/pkg/styles"
)

// ProgressBar provides a reusable progress bar component with TTY detection
// and graceful fallback to text-based progress for non-TTY environments.
// It tracks discrete step counts (e.g. a Workflow's CurrentStep/TotalSteps),
// not bytes.
type ProgressBar struct {
	progress    progress.Model
	totalSteps  int
	currentStep int
}

// NewProgressBar creates a new progress bar over totalSteps discrete steps.
// The progress bar automatically adapts to TTY/non-TTY environments.
func NewProgressBar(totalSteps int) *ProgressBar {
	prog := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)

	// Use adaptive colors from theme system
	prog.FullColor = string(styles.ColorSuccess.Dark)
	prog.EmptyColor = string(styles.ColorComment.Dark)

	return &ProgressBar{
		progress:   prog,
		totalSteps: totalSteps,
	}
}

// Update advances the bar to currentStep and returns a formatted string.
// In TTY mode: returns a visual gradient bar. In non-TTY mode: returns
// "50% (3/6 steps)".
func (p *ProgressBar) Update(currentStep int) string {
	p.currentStep = currentStep

	if p.totalSteps == 0 {
		if isTTY() {
			return p.progress.ViewAs(1.0)
		}
		return "100% (0/0 steps)"
	}

	percent := float64(currentStep) / float64(p.totalSteps)

	if !isTTY() {
		return fmt.Sprintf("%d%% (%d/%d steps)", int(percent*100), currentStep, p.totalSteps)
	}

	return p.progress.ViewAs(percent)
}
