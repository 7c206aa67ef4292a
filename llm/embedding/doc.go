// Package embedding provides text embedding providers for the semantic
// memory tier. Providers speak OpenAI-compatible HTTP APIs; requests are
// rate limited client-side and failures are surfaced as typed errors so the
// caller can distinguish retryable upstream trouble from configuration
// mistakes.
package embedding
