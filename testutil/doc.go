// Package testutil holds helpers shared by the package tests: random member
// sets generated with zeebo/pcg and a roaring bitmap oracle to compare
// postings sets against.
package testutil
