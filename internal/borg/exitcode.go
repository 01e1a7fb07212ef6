package borg

// ExitClass is how a borg exit code is interpreted.
type ExitClass int

const (
	ExitSuccess ExitClass = iota
	ExitWarning
	ExitError
)

func (c ExitClass) String() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitWarning:
		return "warning"
	default:
		return "error"
	}
}

// ExitClassifier maps exit codes to classes using a configurable warning table.
type ExitClassifier struct {
	warnings map[int]bool
}

// NewExitClassifier builds a classifier. An empty table means borg's
// conventions: 1 and 100-127 are warnings.
func NewExitClassifier(warningCodes []int) *ExitClassifier {
	if len(warningCodes) == 0 {
		warningCodes = []int{1}
		for code := 100; code <= 127; code++ {
			warningCodes = append(warningCodes, code)
		}
	}
	c := &ExitClassifier{warnings: make(map[int]bool, len(warningCodes))}
	for _, code := range warningCodes {
		if code != 0 {
			c.warnings[code] = true
		}
	}
	return c
}

// Classify interprets one exit code.
func (c *ExitClassifier) Classify(code int) ExitClass {
	switch {
	case code == 0:
		return ExitSuccess
	case c.warnings[code]:
		return ExitWarning
	default:
		return ExitError
	}
}
