// Package pipeline implements the job handlers that move content through
// the system: caption extraction, audio transcription fallback, and
// vectorization.
package pipeline
