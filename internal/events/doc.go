// Package events fans scheduler and worker observations out to subscribers.
package events
