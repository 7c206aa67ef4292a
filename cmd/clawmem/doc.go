// clawmem is the tiered conversational memory service: it keeps a per-user
// recent buffer, promotes important turns into a durable store, and mirrors
// them into a semantic index for retrieval.
//
// Usage:
//
//	clawmem serve                       start the service
//	clawmem serve --config config.yaml  with a config file
//	clawmem migrate up                  apply database migrations
//	clawmem health                      probe a running instance
//	clawmem version                     print version information
package main
