// Package snapshot writes and reads point-in-time images of the order book.
//
// A snapshot is tagged with the journal sequence it covers, so journal
// segments and acknowledged outbox entries at or below that sequence can be
// dropped once it is on disk.
package snapshot
