// Package orderbook implements the escrowed limit-order book: admission,
// cancellation and the explicit matching pass that crosses bids against asks.
//
// The book holds no locks and performs no I/O. Every operation that moves
// collateral does so through a single call on the Escrow collaborator, and
// the book is only mutated once that call has succeeded.
package orderbook
