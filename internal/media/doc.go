// Package media resolves source URLs into the inputs the pipeline needs:
// downloaded audio files for transcription and published caption tracks
// parsed into transcript segments.
package media
