// Package store defines the persistence collaborators the gateway depends
// on and an in-memory implementation used by default and in tests.
//
// The gateway only ever consumes storage through simple create, find, and
// upsert operations; anything richer belongs behind these interfaces in a
// real backend.
package store
