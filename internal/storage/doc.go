// Package storage persists ordered lists of notifications by bucket.
//
// A Save replaces the whole bucket; a Load of a bucket that was never saved
// returns an empty list. Drivers: memory, file, sqlite, redis.
package storage
