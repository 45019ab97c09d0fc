// SPDX-License-Identifier: Apache 2.0

// Package logging bootstraps slog with hermannm.dev/devlog, exactly as
// the teacher's cmd/root.go wires it, and defines the error taxonomy
// (spec §7) used across the engine to pick a log level and whether an
// error should surface a status-changed event.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"hermannm.dev/devlog"
)

// LevelVar lets --debug flip the global level at runtime, the same
// pattern the teacher uses.
var LevelVar slog.LevelVar

// Init installs the devlog handler as slog's default, writing to w.
func Init(w io.Writer, debug bool) {
	if debug {
		LevelVar.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(devlog.NewHandler(w, &devlog.Options{
		Level: &LevelVar,
	})))
}

// Error taxonomy kinds (spec §7). These are sentinels meant to be
// wrapped with fmt.Errorf("...: %w", err) and unwrapped with
// errors.Is/errors.As at the boundary that decides how to log and
// whether to propagate.
var (
	// ErrTransient covers sharing violations, short reads, EAGAIN:
	// retried with backoff within one operation; surfaced as
	// "operation failed" once the retry budget is exhausted.
	ErrTransient = errors.New("transient I/O error")
	// ErrProtocolViolation covers an unexpected header, invalid
	// signature, sequence replay, or unknown type code. The connection
	// is closed; the peer remains in the directory.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrPeerUnreachable covers a connect timeout or broken pipe. The
	// connection pool is invalidated and rebuilt on the next attempt.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrIntegrity covers an AEAD tag mismatch, a hash mismatch after
	// write, or a signature verification failure. Always fatal for the
	// current record, which is discarded rather than half-applied.
	ErrIntegrity = errors.New("integrity failure")
	// ErrUserRejected covers a legacy-mode transfer rejection or an
	// untrusted peer attempting a state-mutating operation.
	ErrUserRejected = errors.New("user-visible rejection")
	// ErrStorage covers a state-store write failure. Retried once; on
	// persistent failure the engine enters a degraded read-only mode.
	ErrStorage = errors.New("storage failure")
)

// Level maps an error-taxonomy kind to the slog level spec §7's
// propagation policy assigns it. Errors that don't match any taxonomy
// kind default to Error, since an unrecognized failure is treated as
// an unrecoverable internal error.
func Level(err error) slog.Level {
	switch {
	case errors.Is(err, ErrTransient), errors.Is(err, ErrPeerUnreachable):
		return slog.LevelDebug
	case errors.Is(err, ErrProtocolViolation), errors.Is(err, ErrIntegrity):
		return slog.LevelWarn
	case errors.Is(err, ErrStorage):
		return slog.LevelError
	default:
		return slog.LevelError
	}
}

// SurfacesStatusEvent reports whether err should emit a
// status-changed event to external listeners, per spec §7: storage
// failures and unrecoverable internal errors do; transient,
// peer-unreachable, protocol-violation and integrity errors are
// logged but otherwise swallowed at the per-record level.
func SurfacesStatusEvent(err error) bool {
	switch {
	case errors.Is(err, ErrTransient), errors.Is(err, ErrPeerUnreachable):
		return false
	case errors.Is(err, ErrProtocolViolation), errors.Is(err, ErrIntegrity):
		return false
	default:
		return true
	}
}

// Log records err at the level its taxonomy kind dictates, attaching
// any extra key/value attributes. Call sites pass peer-id and record
// type per spec §7's "logged at warning with peer-id and record type".
func Log(err error, msg string, attrs ...any) {
	slog.Default().Log(context.Background(), Level(err), msg, append(attrs, "err", err)...)
}
