// Package scheduler dispatches queued conversions to a bounded worker pool
// and supervises the resulting processes.
package scheduler
