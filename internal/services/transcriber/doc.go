// Package transcriber talks to the speech-to-text model server. The health
// probe gates processing on the server actually running on GPU, because a
// silent CPU fallback stalls the whole pipeline.
package transcriber
