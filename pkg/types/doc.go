// Package types provides shared type definitions for docpipe.
//
// These types cross component boundaries: the orchestrator builds Documents,
// the guardian emits a ProcessingPlan, and the deduplicator and extractors
// consume the admitted Documents.
//
// # Documents
//
// A Document's ID is a name-based UUID (SHA-1, DNS namespace) of its source
// path, so the same file keeps the same ID across runs:
//
//	doc := types.NewDocument("/data/in/invoice-17.pdf", text)
//	doc.ID // stable for this path
//
// # Processing plans
//
// A ProcessingPlan holds one decision per document, in submission order:
//
//	plan.AddFull(path)
//	plan.AddLimited(path)
//	plan.AddSkip(path, "critical memory pressure")
//
// Only non-skip decisions are admitted to later stages.
package types
