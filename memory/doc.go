// Package memory implements the tiered conversational memory engine behind
// the bot: a bounded per-user recent buffer, a gorm-backed long-term store of
// importance-scored records, and a shared content-addressed semantic index
// with an optional embedding backend. The Engine type composes the three
// tiers: it ingests conversation turns, decides promotion into long-term
// storage, assembles retrieval context concurrently across tiers, and runs
// capacity-triggered consolidation.
//
// Tier failures never propagate to the calling message pipeline; the worst
// observable effect of any storage or embedding outage is a degraded or
// empty context.
package memory
