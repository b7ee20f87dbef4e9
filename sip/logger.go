package sip

import "log/slog"

var packageLogger *slog.Logger

// SetDefaultLogger overrides the logger transports, transactions and the
// parser fall back to when no per-component logger option was given.
// Call before constructing any UA/TransportLayer/TransactionLayer.
func SetDefaultLogger(l *slog.Logger) {
	packageLogger = l
}

// DefaultLogger returns the package-wide fallback logger, or slog.Default()
// if SetDefaultLogger was never called.
func DefaultLogger() *slog.Logger {
	if packageLogger != nil {
		return packageLogger
	}
	return slog.Default()
}
