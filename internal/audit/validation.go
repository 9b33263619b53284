package audit

import "fmt"

func validateRecord(rec Record) error {
	if rec.Tool == "" {
		return fmt.Errorf("tool cannot be empty")
	}

	if !isValidDecision(rec.Decision) {
		return fmt.Errorf("invalid decision: %s", rec.Decision)
	}

	if rec.Decision != DecisionDeny && rec.CallID == "" {
		return fmt.Errorf("call_id required for %s entries", rec.Decision)
	}

	if rec.Reason == "" {
		return fmt.Errorf("reason cannot be empty")
	}

	return nil
}

func isValidDecision(d Decision) bool {
	switch d {
	case DecisionAllow, DecisionDeny, DecisionPending:
		return true
	}
	return false
}
