package clog

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
)

type Level int

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) Log(ctx context.Context, msg string, args ...any) {
	switch l {
	case LevelDebug:
		slog.DebugContext(ctx, msg, args...)
	case LevelInfo:
		slog.InfoContext(ctx, msg, args...)
	case LevelWarn:
		slog.WarnContext(ctx, msg, args...)
	default:
		slog.ErrorContext(ctx, msg, args...)
	}
}

func HTTPStatusToLevel(status int) Level {
	switch {
	case status >= 100 && status < 400:
		return LevelInfo
	case status == 499:
		return LevelInfo
	case status >= 400 && status < 500:
		return LevelWarn
	default:
		return LevelError
	}
}

// CodeToLevel decides how loudly a failed call is logged. Client mistakes
// are info; anything the operator has to look at is error.
func CodeToLevel(code connect.Code) Level {
	switch code {
	case connect.CodeCanceled,
		connect.CodeInvalidArgument,
		connect.CodeDeadlineExceeded,
		connect.CodeNotFound,
		connect.CodeAlreadyExists,
		connect.CodePermissionDenied,
		connect.CodeFailedPrecondition,
		connect.CodeAborted,
		connect.CodeOutOfRange,
		connect.CodeUnauthenticated:
		return LevelInfo
	case connect.CodeResourceExhausted,
		connect.CodeUnknown,
		connect.CodeUnimplemented,
		connect.CodeInternal,
		connect.CodeUnavailable,
		connect.CodeDataLoss:
		return LevelError
	}
	return LevelError
}
