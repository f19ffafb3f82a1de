// Package storeerr classifies the failures of the storage packages.
//
// Storage code wraps every error it returns in one of the classes so the
// public packages can map them onto their sentinel errors:
//
//	return storeerr.Corrupt.New("page %d holds %d slots", n, count)
//	if storeerr.Corrupt.Has(err) { ... }
package storeerr

import "github.com/zeebo/errs"

var (
	// Corrupt marks a persisted structure that fails validation.
	Corrupt = errs.Class("format corruption")
	// Precondition marks an argument or state the operation cannot accept.
	Precondition = errs.Class("precondition violation")
	// IO marks an underlying file system failure.
	IO = errs.Class("io failure")
	// Closed marks use of a component after Close.
	Closed = errs.Class("closed")
)

// Classify wraps err in IO unless it already carries one of the classes.
func Classify(err error) error {
	if err == nil || Corrupt.Has(err) || Precondition.Has(err) || IO.Has(err) || Closed.Has(err) {
		return err
	}
	return IO.Wrap(err)
}
