// Package service is the single write entry point of the exchange.
//
// Every command runs under one lock against one storage transaction: the
// domain operation escrows through the transaction, the resulting book rows
// and outbox events are staged in it, and the whole lot commits at once. The
// command is journaled after commit.
package service
