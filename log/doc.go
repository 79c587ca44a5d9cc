// Package log provides the leveled logging interface used across checkpointer.
//
// Components take a Logger through an option and fall back to the package-level
// logger, which is a kataras/golog logger at info level writing to stderr.
//
//	log.SetLogLevel(log.LogLevelDebug)
//
//	// or route everything through your own golog instance
//	glogger := golog.New()
//	glogger.SetPrefix("[myapp] ")
//	l := log.NewGologLogger(glogger)
//	l.SetLevel(log.LogLevelWarn)
//	log.SetDefaultLogger(l)
//
// DefaultLogger writes through the standard library logger and NoOpLogger
// discards everything, which is convenient in tests.
package log
