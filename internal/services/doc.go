// Package services holds cross-cutting helpers shared by loom's external
// service clients and job handlers: the error classification markers used
// for retry decisions and the context carriers used for log annotation.
package services
