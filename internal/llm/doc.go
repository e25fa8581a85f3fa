// Package llm provides a minimal client for OpenAI-compatible chat-completion
// endpoints used to summarize document text.
package llm
