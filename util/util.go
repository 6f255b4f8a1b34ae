package util

import (
	"github.com/sirupsen/logrus"
)

// debug is the verbosity threshold; DPrintf calls with a level above it are
// dropped.
var debug uint64

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetLevel(logrus.DebugLevel)
	return l
}

// SetDebug raises the DPrintf threshold (0 silences everything).
func SetDebug(level uint64) {
	debug = level
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= debug {
		logger.Debugf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func SumOverflows(x uint64, y uint64) bool {
	return x+y < x
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}
