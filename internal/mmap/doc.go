// Package mmap maps files read-only for maintenance scans, such as postings
// optimisation, that would otherwise issue one small read per record.
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.Advise(mmap.AccessSequential)
//	rec, err := m.Slice(off, n)
//
// Unix uses mmap(2) and madvise(2); Windows uses MapViewOfFile and ignores
// access hints. A mapping must not be used after Close.
package mmap
