package progress

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MaxReportedPercent is the ceiling applied to engine-reported progress. Only
// the controller's own completion declaration may show 100%.
const MaxReportedPercent = 99.5

var overallProgress = regexp.MustCompile(
	`(?i)(?:SQL73\d+:\s*)?Processing\s+(Export|Import)\.\s*(100(?:\.0+)?|\d{1,2}(?:\.\d+)?)%\s*done\.`,
)

// Reading is the structured progress extracted from one diagnostic line.
type Reading struct {
	// Percent is clamped to [0, MaxReportedPercent].
	Percent float64
	// Operation is "Export" or "Import".
	Operation string
}

// Phase is the display label for the reading.
func (r Reading) Phase() string {
	return "Processing " + r.Operation + "..."
}

// Classify reports whether line announces the engine's overall percentage and,
// if so, returns it. Lines that do not match are left to the caller as plain
// activity text.
func Classify(line string) (Reading, bool) {
	m := overallProgress.FindStringSubmatch(line)
	if m == nil {
		return Reading{}, false
	}
	pct, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Reading{}, false
	}
	op := "Export"
	if strings.EqualFold(m[1], "import") {
		op = "Import"
	}
	return Reading{
		Percent:   math.Min(math.Max(pct, 0), MaxReportedPercent),
		Operation: op,
	}, true
}
