package messaging

import (
	"context"

	"go.uber.org/zap"
)

// LogMessenger stands in for the chat channel in local runs.
type LogMessenger struct {
	logger *zap.Logger
}

func NewLogMessenger(logger *zap.Logger) *LogMessenger {
	return &LogMessenger{logger: logger.Named("messenger")}
}

func (l *LogMessenger) PushText(ctx context.Context, to, text string) error {
	l.logger.Info("push text", zap.String("to", to), zap.String("text", text))
	return nil
}

func (l *LogMessenger) PushImage(ctx context.Context, to, imageURL string) error {
	l.logger.Info("push image", zap.String("to", to), zap.String("image_url", imageURL))
	return nil
}
