// Package inkdex provides an embedded full-text inverted index for Go.
//
// An Index maps terms to compressed postings sets of record numbers, keeps
// documents in an append-only record store and answers boolean and wildcard
// queries over them.
//
// # Quick Start
//
//	idx, _ := inkdex.Open("./data")
//	defer idx.Close()
//
//	idx.Index(inkdex.NewDocument("a.txt", "the quick fox"))
//	idx.Index(inkdex.NewDocument("b.txt", "the lazy dog"))
//
//	docs, _ := idx.FindDocuments("quick")
//
// # Query Language
//
// A query is a list of whitespace-separated terms folded left to right:
//
//	quick dog      // quick AND dog
//	+fox +dog      // fox OR dog
//	dog -lazy      // dog AND NOT lazy
//	-lazy          // every document without lazy
//	qu?ck f*       // wildcards over the vocabulary
//
// Deleted documents never match.
//
// # Record Mode
//
// Opened WithoutDocuments, an Index stores no documents. Callers index their
// own record numbers with IndexText and evaluate queries with Query; the
// fieldindex package uses this mode for full-text fields.
//
// # Durability Model
//
// Indexing is buffered in memory until Save, Optimize or Close:
//
//	idx.Index(doc)  // document is durable, postings are buffered
//	idx.Save()      // postings and vocabulary durable after this
//
// Documents are written to the record store immediately, so Open re-indexes
// the documents stored after the last Save.
//
// # Files
//
//	words.words                  vocabulary (term to postings handle)
//	words_uhoo.mgbmp / .mgbmr    postings blobs and offsets
//	words_deleted.idx            deleted document numbers
//	files.docs.*                 document record store
//	stats/                       counters (block key/value store)
package inkdex
