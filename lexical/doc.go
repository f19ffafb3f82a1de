// Package lexical turns text into index terms.
//
// The inverted index only needs the distinct terms of a document; a
// Tokenizer produces them. WordTokenizer segments text on Unicode word
// boundaries (UAX #29) after NFKC normalisation and lowercasing:
//
//	terms := lexical.DefaultTokenizer.Terms("The quick, quick fox")
//	// [fox quick the]
//
// Query words are passed through Normalize so they match the stored terms.
package lexical
