package observability

import (
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
		output = os.Stdout
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

// WithDocument adds document_id context to logger.
func (l *Logger) WithDocument(documentID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("document_id", documentID).Logger(),
	}
}

// WithClient adds client_id context to logger.
func (l *Logger) WithClient(clientID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("client_id", clientID).Logger(),
	}
}

// WithNode adds source node_id context to logger, used on replication paths.
func (l *Logger) WithNode(nodeID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("node_id", nodeID).Logger(),
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

// SessionLoaded logs that a session's load() completed.
func (l *Logger) SessionLoaded(documentID string) {
	l.logger.Info().Str("document_id", documentID).Msg("session loaded")
}

// ClientJoined logs a client joining a session's fan-out set.
func (l *Logger) ClientJoined(documentID, clientID string) {
	l.logger.Info().Str("document_id", documentID).Str("client_id", clientID).Msg("client joined")
}

// ClientLeft logs a client leaving a session's fan-out set.
func (l *Logger) ClientLeft(documentID, clientID string) {
	l.logger.Info().Str("document_id", documentID).Str("client_id", clientID).Msg("client left")
}

// DisposeScheduled logs that a session's cleanup timer was armed.
func (l *Logger) DisposeScheduled(documentID string, delay time.Duration) {
	l.logger.Debug().Str("document_id", documentID).Dur("delay", delay).Msg("dispose scheduled")
}

// DisposeCancelled logs that a pending disposal was cancelled by a rejoin.
func (l *Logger) DisposeCancelled(documentID string) {
	l.logger.Debug().Str("document_id", documentID).Msg("dispose cancelled")
}

// SessionDisposed logs that a session's dispose path completed.
func (l *Logger) SessionDisposed(documentID string) {
	l.logger.Info().Str("document_id", documentID).Msg("session disposed")
}

// ChunkRejected logs a file chunk that failed proof verification.
func (l *Logger) ChunkRejected(fileID string, chunkIndex uint64, reason string) {
	l.logger.Warn().
		Str("file_id", fileID).
		Uint64("chunk_index", chunkIndex).
		Str("reason", reason).
		Msg("chunk rejected")
}

// TransferCompleted logs a completed upload or download.
func (l *Logger) TransferCompleted(fileID string, size int64, totalChunks uint64, duration time.Duration) {
	l.logger.Info().
		Str("file_id", fileID).
		Int64("size", size).
		Uint64("total_chunks", totalChunks).
		Float64("duration_seconds", duration.Seconds()).
		Msg("transfer completed")
}

// ReplicationDrop logs a replicated message dropped before or by dedup.
func (l *Logger) ReplicationDrop(documentID, sourceNodeID, reason string) {
	l.logger.Debug().
		Str("document_id", documentID).
		Str("source_node_id", sourceNodeID).
		Str("reason", reason).
		Msg("replication message dropped")
}

// BroadcastSendFailed logs a failed send during a broadcast fan-out; the
// broadcast itself continues to the remaining clients.
func (l *Logger) BroadcastSendFailed(documentID, clientID string, err error) {
	l.logger.Warn().
		Str("document_id", documentID).
		Str("client_id", clientID).
		Err(err).
		Msg("broadcast send failed")
}

// RPCUnknownMethod logs a request for an rpc method with no registered handler.
func (l *Logger) RPCUnknownMethod(method string) {
	l.logger.Warn().Str("method", method).Msg("rpc method not found")
}

// RPCHandlerError logs an rpc handler returning an uncaught error.
func (l *Logger) RPCHandlerError(method string, err error) {
	l.logger.Error().Str("method", method).Err(err).Msg("rpc handler error")
}

// ConnectionEstablished logs connection establishment.
func (l *Logger) ConnectionEstablished(remoteAddr string, connectionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("connection_id", connectionID).
		Msg("connection established")
}

// ConnectionFailed logs connection failure.
func (l *Logger) ConnectionFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("connection failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
