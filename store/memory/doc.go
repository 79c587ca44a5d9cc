// Package memory provides an in-process checkpoint log.
package memory
