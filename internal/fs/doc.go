// Package fs abstracts the file operations used by the storage layers so that
// tests can substitute a [FaultyFS] and observe how a component behaves when a
// write, sync or close fails part way through.
//
// Production code uses [Default], which is backed by the os package:
//
//	f, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
//
// Tests wrap it:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("$.mgbmp", fs.Fault{FailAfterBytes: 16})
package fs
