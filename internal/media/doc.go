// Package media defines the conversion job model, format tables, and output
// path planning.
package media
