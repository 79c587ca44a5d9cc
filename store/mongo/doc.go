// Package mongo provides MongoDB-backed checkpoint storage using the official
// v2 driver. It uses the "checkpoints" and "checkpoint_writes" collections of
// the "checkpointing_db" database unless configured otherwise.
package mongo
