// Package chunker splits long document text into overlapping windows sized
// for a generation model.
//
// Each cut point aims at start+window and is moved to the nearest paragraph
// break, or failing that the nearest sentence end, within a fixed radius. The
// next chunk starts overlap characters before the cut, so neighbouring chunks
// share context.
//
// # Basic Usage
//
//	c := chunker.New(chunker.DefaultWindow, chunker.DefaultOverlap, chunker.DefaultRadius)
//	for _, piece := range c.Chunk(text) {
//	    // send piece to the model
//	}
//
// # Window Sizing
//
// OptimalWindowSize inspects a sample for formula and markup tokens ($, \, [, ]
// and \commands) and returns a smaller window for dense technical content:
//
//	size := c.OptimalWindowSize(text[:5000])
//	pieces := c.WithWindow(size).Chunk(text)
//
// Lengths and offsets are counted in characters (runes), not bytes.
package chunker
