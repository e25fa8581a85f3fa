// Package summary defines the summarization job model, its error taxonomy and
// the collaborator interfaces shared by the gateway, the workers and the
// storage and queue backends.
package summary
