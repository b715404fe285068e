package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/observability"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

var errImageNotFetchable = errors.New("image url is not reachable by the channel")

// Notifier schedules a best-effort notification. It never blocks and never fails
// the caller; the return value only reports whether the job was accepted.
type Notifier interface {
	Enqueue(recipientID string, n domain.Notification) bool
}

type DispatcherOptions struct {
	QueueSize int
	// ImageHTTPSOnly sends non-https images straight to the text fallback.
	ImageHTTPSOnly bool
	// Timeout bounds one delivery, image and text included.
	Timeout time.Duration
}

type notificationJob struct {
	recipientID string
	payload     domain.Notification
}

// NotificationDispatcher delivers notifications on a pool of background workers.
type NotificationDispatcher struct {
	messenger port.Messenger
	opts      DispatcherOptions
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer

	queue  chan notificationJob
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewNotificationDispatcher(messenger port.Messenger, opts DispatcherOptions, logger *zap.Logger, metrics *observability.Metrics) *NotificationDispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationDispatcher{
		messenger: messenger,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("notification-dispatcher"),
		queue:     make(chan notificationJob, opts.QueueSize),
	}
}

// Start launches n workers draining the queue.
func (d *NotificationDispatcher) Start(n int) {
	for i := 0; i < n; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
}

func (d *NotificationDispatcher) workerLoop(id int) {
	for job := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		delivered := d.Notify(ctx, job.recipientID, job.payload)
		cancel()
		d.logger.Debug("notification processed",
			zap.Int("worker", id),
			zap.String("recipient_id", job.recipientID),
			zap.Bool("delivered", delivered),
		)
	}
}

// Enqueue schedules a notification. A full or closed queue drops the job.
func (d *NotificationDispatcher) Enqueue(recipientID string, n domain.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.Notification("dropped")
		d.logger.Warn("notification dropped, dispatcher closed", zap.String("recipient_id", recipientID))
		return false
	}
	select {
	case d.queue <- notificationJob{recipientID: recipientID, payload: n}:
		return true
	default:
		d.metrics.Notification("dropped")
		d.logger.Warn("notification dropped, queue full", zap.String("recipient_id", recipientID))
		return false
	}
}

// Close stops intake and waits for queued notifications to drain.
func (d *NotificationDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Notify delivers n to recipientID synchronously. The image goes first; if it
// fails a text describing it is sent instead, and that fallback's own failure is
// only logged. The text part follows independently. The result reports whether
// the primary payload (the image, or the text when there is no image) arrived.
func (d *NotificationDispatcher) Notify(ctx context.Context, recipientID string, n domain.Notification) bool {
	if recipientID == "" || n.Empty() {
		return false
	}
	ctx, span := d.tracer.Start(ctx, "notify.Deliver", trace.WithAttributes(
		attribute.String("recipient.id", recipientID),
		attribute.Bool("notify.has_image", n.ImageURL != ""),
		attribute.Bool("notify.has_text", n.Text != ""),
	))
	defer span.End()

	delivered := false

	if n.ImageURL != "" {
		if err := d.pushImage(ctx, recipientID, n.ImageURL); err != nil {
			d.logger.Warn("image push failed, falling back to text",
				zap.String("recipient_id", recipientID),
				zap.Error(err),
			)
			span.RecordError(err)
			d.fallback(ctx, recipientID, n)
		} else {
			delivered = true
			d.metrics.Notification("delivered")
		}
	}

	if n.Text != "" {
		err := d.messenger.PushText(ctx, recipientID, n.Text)
		if err != nil {
			d.metrics.Notification("failed")
			d.logger.Warn("text push failed", zap.String("recipient_id", recipientID), zap.Error(err))
			span.RecordError(err)
		} else if n.ImageURL == "" {
			d.metrics.Notification("delivered")
		}
		if n.ImageURL == "" {
			delivered = err == nil
		}
	}

	span.SetAttributes(attribute.Bool("notify.delivered", delivered))
	return delivered
}

func (d *NotificationDispatcher) pushImage(ctx context.Context, to, imageURL string) error {
	if d.opts.ImageHTTPSOnly && !strings.HasPrefix(strings.ToLower(imageURL), "https://") {
		return errImageNotFetchable
	}
	return d.messenger.PushImage(ctx, to, imageURL)
}

func (d *NotificationDispatcher) fallback(ctx context.Context, to string, n domain.Notification) {
	text := n.FallbackText
	if text == "" {
		text = fmt.Sprintf("Your image is ready: %s", n.ImageURL)
	}
	if err := d.messenger.PushText(ctx, to, text); err != nil {
		d.metrics.Notification("failed")
		d.logger.Error("fallback text push failed", zap.String("recipient_id", to), zap.Error(err))
		return
	}
	d.metrics.Notification("fallback")
}
