package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogForwarder is an io.Writer that sends each log record to the
// system log, so daemon output survives on devices without a console.
type SyslogForwarder struct {
	writer *syslog.Writer
}

// NewSyslogForwarder connects to the local syslog daemon.
func NewSyslogForwarder(tag string) (*SyslogForwarder, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to syslog: %w", err)
	}
	return &SyslogForwarder{writer: w}, nil
}

// Write sends one record to syslog.
func (sf *SyslogForwarder) Write(p []byte) (int, error) {
	if err := sf.writer.Info(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the syslog connection.
func (sf *SyslogForwarder) Close() error {
	return sf.writer.Close()
}
