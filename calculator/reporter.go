package calculator

// Reporter receives progress from a running simulation. Implementations must
// return quickly; Report is called from inside the solver's derivative
// evaluation.
type Reporter interface {
	Report(percent float64, message string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(percent float64, message string)

func (f ReporterFunc) Report(percent float64, message string) { f(percent, message) }

type nopReporter struct{}

func (nopReporter) Report(float64, string) {}
