package coordinate

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass represents whether a transport error should be retried.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the attempt should be retried (transient).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates retrying the same account cannot succeed.
	ErrorClassFatal
)

func (ec ErrorClass) String() string {
	if ec == ErrorClassFatal {
		return "fatal"
	}
	return "retryable"
}

// ClassifyTransportError sorts IRC join/send failures into retryable vs fatal.
//
// Fatal: authentication failures, bans, suspended channels, and message
// rejections the server will repeat verbatim on retry.
// Retryable: timeouts, connection drops, rate limiting, and anything
// unrecognized (giving up too early loses a participation the retry budget
// could have won).
func ClassifyTransportError(err error) ErrorClass {
	if err == nil {
		return ErrorClassRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorClassRetryable
	}
	lower := strings.ToLower(err.Error())

	fatal := []string{
		"login authentication failed",
		"improperly formatted auth",
		"invalid nick",
		"msg_banned",
		"msg_channel_suspended",
		"msg_verified_email",
		"banned from",
		"suspended",
	}
	for _, pattern := range fatal {
		if strings.Contains(lower, pattern) {
			return ErrorClassFatal
		}
	}

	return ErrorClassRetryable
}

// IsRetryableError reports whether an attempt failure should consume a retry.
func IsRetryableError(err error) bool {
	return ClassifyTransportError(err) == ErrorClassRetryable
}
