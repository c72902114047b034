// Package source loads analysis candidates from one of two interchangeable
// providers: the primary SQLite store or a fallback watchlist file.
//
// Callers pick nothing themselves. Open resolves which provider is usable,
// and both providers return the same Candidate shape with the same price
// filter semantics.
package source
