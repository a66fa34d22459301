// Package watchfolder enqueues media files dropped into a watched directory.
package watchfolder
