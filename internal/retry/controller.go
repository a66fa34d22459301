package retry

import "strings"

// Controller decides whether a failed job should be resubmitted based on its
// captured log output.
type Controller struct {
	enabled     bool
	rules       []string
	maxAttempts int
}

// NewController builds a controller from the configured substring rules.
// Rules are matched case-sensitively in order. maxAttempts counts total
// attempts per job lineage, including the first run.
func NewController(enabled bool, rules []string, maxAttempts int) *Controller {
	kept := make([]string, 0, len(rules))
	for _, rule := range rules {
		if strings.TrimSpace(rule) != "" {
			kept = append(kept, rule)
		}
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Controller{enabled: enabled, rules: kept, maxAttempts: maxAttempts}
}

// ShouldRetry reports whether a failure with the given log text and attempt
// count (attempts already made) warrants an automatic resubmission, and the
// rule that matched.
func (c *Controller) ShouldRetry(logText string, attempts int) (string, bool) {
	if c == nil || !c.enabled {
		return "", false
	}
	if attempts >= c.maxAttempts {
		return "", false
	}
	for _, rule := range c.rules {
		if strings.Contains(logText, rule) {
			return rule, true
		}
	}
	return "", false
}

// MaxAttempts returns the configured attempt ceiling.
func (c *Controller) MaxAttempts() int {
	if c == nil {
		return 1
	}
	return c.maxAttempts
}
