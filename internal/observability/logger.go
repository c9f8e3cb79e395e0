package observability

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Str("instance", uuid.NewString()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// Zerolog exposes the underlying zerolog logger for packages that take
// it directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// WithRequest adds request_id context to logger.
func (l *Logger) WithRequest(requestID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("request_id", requestID).Logger(),
	}
}

// WithFile adds file_hash context to logger.
func (l *Logger) WithFile(fileHash string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_hash", fileHash).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// RequestReceived logs an incoming protocol request.
func (l *Logger) RequestReceived(requestID, requester, action string) {
	l.logger.Info().
		Str("request_id", requestID).
		Str("requester", requester).
		Str("action", action).
		Msg("request received")
}

// RequestFailed logs a request that terminated with an error status.
func (l *Logger) RequestFailed(requestID, action, errorCode string, err error) {
	l.logger.Error().
		Str("request_id", requestID).
		Str("action", action).
		Str("error_code", errorCode).
		Err(err).
		Msg("request failed")
}

// FileStored logs a completed store.
func (l *Logger) FileStored(fileHash string, size int64, chunks int, expires int64) {
	l.logger.Info().
		Str("file_hash", fileHash).
		Int64("file_size", size).
		Int("chunk_count", chunks).
		Int64("expires", expires).
		Msg("file stored")
}

// ChunksPublished logs a completed chunk broadcast.
func (l *Logger) ChunksPublished(fileHash string, count int, elapsed time.Duration) {
	l.logger.Info().
		Str("file_hash", fileHash).
		Int("chunk_count", count).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("chunk events published")
}

// ChunkCollected logs a received and verified chunk.
func (l *Logger) ChunkCollected(fileHash string, index, total int, size int) {
	l.logger.Debug().
		Str("file_hash", fileHash).
		Int("chunk_index", index).
		Int("chunk_total", total).
		Int("chunk_size", size).
		Msg("chunk collected")
}

// ChunkDiscarded logs a chunk dropped during collection.
func (l *Logger) ChunkDiscarded(fileHash string, index int, reason string) {
	l.logger.Warn().
		Str("file_hash", fileHash).
		Int("chunk_index", index).
		Str("reason", reason).
		Msg("chunk discarded")
}

// TransferCompleted logs a finished upload or download.
func (l *Logger) TransferCompleted(direction, fileHash string, size int64, chunks int, duration time.Duration) {
	l.logger.Info().
		Str("direction", direction).
		Str("file_hash", fileHash).
		Int64("file_size", size).
		Int("chunk_count", chunks).
		Float64("duration_seconds", duration.Seconds()).
		Msg("transfer completed")
}

// SweepCompleted logs a TTL sweeper pass that evicted records.
func (l *Logger) SweepCompleted(removed, remaining int) {
	l.logger.Info().
		Int("removed", removed).
		Int("remaining", remaining).
		Msg("expired files swept")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
