package errprocess

import (
	"errors"
	"fmt"

	"video_transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

// Set log errMsg and return it as an error
func Set(errMsg string, fields ...zap.Field) error {
	logger.Log.Error(errMsg, fields...)
	return errors.New(errMsg)
}

// Wrap log errMsg and return an error that still unwraps to cause
func Wrap(errMsg string, cause error, fields ...zap.Field) error {
	logger.Log.Error(errMsg, append(fields, zap.Error(cause))...)
	return fmt.Errorf("%s: %w", errMsg, cause)
}
