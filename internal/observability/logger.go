package observability

import (
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// SetLevel parses level ("debug", "info", ...) and applies it to the logger.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	l.logger = l.logger.Level(lvl)
	return nil
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// SignatureBuilt logs a completed base scan.
func (l *Logger) SignatureBuilt(path string, blockSize, blocks int, cached bool, duration time.Duration) {
	l.logger.Info().
		Str("file_path", path).
		Int("block_size", blockSize).
		Int("blocks", blocks).
		Bool("cached", cached).
		Float64("duration_seconds", duration.Seconds()).
		Msg("signature built")
}

// DeltaBuilt logs a completed target scan.
func (l *Logger) DeltaBuilt(path string, copies, literals int, literalBytes int64, duration time.Duration) {
	l.logger.Info().
		Str("file_path", path).
		Int("copies", copies).
		Int("literals", literals).
		Int64("literal_bytes", literalBytes).
		Float64("duration_seconds", duration.Seconds()).
		Msg("delta built")
}

// PatchApplied logs a reconstruction and whether it verified.
func (l *Logger) PatchApplied(path string, written int64, verified bool, duration time.Duration) {
	ev := l.logger.Info()
	if !verified {
		ev = l.logger.Warn()
	}
	ev.Str("file_path", path).
		Int64("bytes_written", written).
		Bool("verified", verified).
		Float64("duration_seconds", duration.Seconds()).
		Msg("patch applied")
}

// DigestMismatch logs a reconstruction whose digest differs from the target's.
func (l *Logger) DigestMismatch(path string, expected, actual []byte) {
	l.logger.Error().
		Str("file_path", path).
		Str("expected_digest", hex.EncodeToString(expected)).
		Str("actual_digest", hex.EncodeToString(actual)).
		Msg("reconstructed digest mismatch")
}

// CacheCollected logs a signature cache sweep.
func (l *Logger) CacheCollected(path string, removed int, maxAge time.Duration) {
	l.logger.Info().
		Str("cache_path", path).
		Int("removed", removed).
		Dur("max_age", maxAge).
		Msg("signature cache collected")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
