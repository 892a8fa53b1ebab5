// Package recovery returns abandoned and transiently failed jobs to the
// queue automatically, so a crash or a flaky downstream service never needs
// an operator to unstick the pipeline.
package recovery
