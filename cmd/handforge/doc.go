// Command handforge converts media files through a persistent, parallel
// ffmpeg job queue.
package main
