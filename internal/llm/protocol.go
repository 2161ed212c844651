package llm

import (
	"strconv"
	"strings"
)

// Detection is the parsed detection response. Confidence is nil when the
// CONFIDENCE line was absent or unparseable.
type Detection struct {
	HasIssue   bool
	Confidence *float64
	Detail     string
}

// Verification is the parsed verifier response.
type Verification struct {
	Valid  bool
	Reason string
}

// ParseDetection reads the line-oriented detection protocol: VERDICT,
// CONFIDENCE, DETAIL, terminated by a line that is exactly END. The verdict
// flags an issue only when it equals the check's keyword (case-insensitive).
// Unrecognized lines are ignored.
func ParseDetection(keyword, response string) Detection {
	var det Detection

	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "VERDICT:"):
			verdict := strings.ToUpper(strings.TrimSpace(trimmed[len("VERDICT:"):]))
			det.HasIssue = verdict == strings.ToUpper(keyword)
		case strings.HasPrefix(trimmed, "CONFIDENCE:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(trimmed[len("CONFIDENCE:"):]), 64); err == nil {
				v = min(max(v, 0.0), 1.0)
				det.Confidence = &v
			}
		case strings.HasPrefix(trimmed, "DETAIL:"):
			det.Detail = strings.TrimSpace(trimmed[len("DETAIL:"):])
		case trimmed == "END":
			return det
		}
	}
	return det
}

// ParseVerification reads the verifier protocol: VERDICT: VALID|INVALID and
// REASON, terminated by END or end of input.
func ParseVerification(response string) Verification {
	var ver Verification

	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "VERDICT:"):
			ver.Valid = strings.ToUpper(strings.TrimSpace(trimmed[len("VERDICT:"):])) == "VALID"
		case strings.HasPrefix(trimmed, "REASON:"):
			ver.Reason = strings.TrimSpace(trimmed[len("REASON:"):])
		case trimmed == "END":
			return ver
		}
	}
	return ver
}
