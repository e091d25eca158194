package abctrawl

import (
	"sync"

	"github.com/alecthomas/log4go"
)

// log4go.Logger is the teacher's logging surface throughout
// dankinder-walker. The original import path, code.google.com/p/log4go, has
// been dead since Google Code shut down; alecthomas/log4go is a maintained
// fork with the same Info/Debug/Fine/Warn/Error(format, args...) API, so every
// call site below reads exactly as it would against the teacher's logger.
var (
	loggerOnce sync.Once
	log        log4go.Logger
)

func logger() log4go.Logger {
	loggerOnce.Do(func() {
		log = make(log4go.Logger)
		level := log4go.INFO
		switch Config.LogLevel {
		case "FINE":
			level = log4go.FINE
		case "DEBUG":
			level = log4go.DEBUG
		case "WARNING":
			level = log4go.WARNING
		case "ERROR":
			level = log4go.ERROR
		}
		log.AddFilter("stdout", level, log4go.NewConsoleLogWriter())
		// When log_scan_path is set, fetcher workers also append to that file
		// so the Dispatcher's advisory log-scan sweep (spec.md §4.4's
		// "Host-disable sweep from logs") has something to tail.
		if Config.LogScanPath != "" {
			log.AddFilter("logscan", level, log4go.NewFileLogWriter(Config.LogScanPath, true))
		}
	})
	return log
}
