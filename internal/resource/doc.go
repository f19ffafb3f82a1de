// Package resource shares limits between the stores of one index.
//
// A Controller tracks the memory held by cached pages and postings sets,
// caps the number of background workers (autosave tickers), and throttles
// the bulk rewrites performed by optimisation and compaction so they do not
// starve foreground reads.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   256 << 20,
//	    IOLimitBytesPerSec: 64 << 20,
//	})
//
// Every method is safe on a nil *Controller and then does nothing, so
// components accept an optional controller without nil checks.
package resource
