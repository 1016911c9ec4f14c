// Package xlog provides a small structured-logging helper shared by every
// subsystem of the unicast core. It wraps logrus with a fixed set of base
// fields (package, component) so call sites only add what varies.
package xlog

import (
	"github.com/sirupsen/logrus"
)

// Logger carries a base field set that every call on it inherits.
type Logger struct {
	fields logrus.Fields
}

// New returns a Logger tagged with the owning package and component name,
// e.g. xlog.New("dht", "bucket").
func New(pkg, component string) *Logger {
	return &Logger{fields: logrus.Fields{
		"package":   pkg,
		"component": component,
	}}
}

// With returns a derived Logger with additional fields merged in. The
// receiver is left unmodified.
func (l *Logger) With(fields logrus.Fields) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{fields: merged}
}

func (l *Logger) Debug(msg string, fields logrus.Fields) { l.entry(fields).Debug(msg) }
func (l *Logger) Info(msg string, fields logrus.Fields)  { l.entry(fields).Info(msg) }
func (l *Logger) Warn(msg string, fields logrus.Fields)  { l.entry(fields).Warn(msg) }
func (l *Logger) Error(msg string, fields logrus.Fields) { l.entry(fields).Error(msg) }

func (l *Logger) entry(fields logrus.Fields) *logrus.Entry {
	if len(fields) == 0 {
		return logrus.WithFields(l.fields)
	}
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return logrus.WithFields(merged)
}
