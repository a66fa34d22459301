// Package retry matches failure logs against configured patterns to decide
// automatic resubmission.
package retry
