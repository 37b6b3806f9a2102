package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog reports problems that happen before the configured logger
// exists, i.e. while loading the config that describes it.
type EarlyLog struct {
	out io.Writer
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stderr}
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "WARN: "+msg+"\n", args...)
}
