// Package queue persists conversion jobs and their results in SQLite.
package queue
