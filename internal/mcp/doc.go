// Package mcp exposes the docpipe pipeline as a Model Context Protocol server.
//
// Three tools are registered:
//   - ingest_directory: run the pipeline over a directory and return the run report
//   - get_status: report fingerprints, checkpoints, the latest run, resources and breakers
//   - search_documents: query accepted documents by vector, keyword or hybrid search
//
// The server speaks JSON-RPC 2.0 over stdio, so logs go to stderr:
//
//	docpipe serve
//
// # Tool: ingest_directory
//
//	Request:
//	{
//	  "name": "ingest_directory",
//	  "arguments": {
//	    "path": "/data/inbox",
//	    "mode": "extract"
//	  }
//	}
//
// The response is the run report, the same document written to the report file.
// Only one ingest runs at a time; a second call fails with -32002.
//
// # Tool: search_documents
//
//	Request:
//	{
//	  "name": "search_documents",
//	  "arguments": {
//	    "query": "unpaid invoices from acme",
//	    "limit": 10,
//	    "search_mode": "hybrid",
//	    "min_score": 0.2
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {"doc_id": "...", "path": "/data/inbox/acme.pdf", "rank": 1, "relevance_score": 0.032, "snippet": "..."}
//	  ],
//	  "total_results": 1,
//	  "search_mode": "hybrid"
//	}
//
// # Error codes
//
//   - -32602: invalid params
//   - -32603: internal error
//   - -32002: an ingest is already running
//   - -32003: the ingest was interrupted; data carries the partial report
//   - -32004: empty query
package mcp
