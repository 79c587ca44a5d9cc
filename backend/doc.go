// Package backend opens the store.Log selected by a config.Config.
package backend
