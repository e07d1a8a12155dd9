package proc

import (
	"fmt"
	"math"
	"strings"
)

const ProgressBarWidth = 10

// ProgressPosition maps elapsed/duration onto a bar of width cells. The
// result always lies in [0, width-1].
func ProgressPosition(elapsed, duration float64, width int) int {
	if width <= 0 {
		return 0
	}
	if duration <= 0 || math.IsNaN(elapsed) || elapsed <= 0 {
		return 0
	}
	p := math.Min(elapsed/duration, 1)
	pos := int(math.Round(p * float64(width)))
	if pos >= width {
		pos = width - 1
	}
	return pos
}

// ProgressBar renders the bar with filled, head and empty cells.
func ProgressBar(elapsed, duration float64, width int, filled, head, empty string) string {
	pos := ProgressPosition(elapsed, duration, width)
	var b strings.Builder
	b.WriteString(strings.Repeat(filled, pos))
	b.WriteString(head)
	b.WriteString(strings.Repeat(empty, width-pos-1))
	return b.String()
}

// FormatTimestamp renders seconds as m:ss.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
