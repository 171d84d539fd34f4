package upload

import (
	"context"
	"sync"
	"time"

	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/metrics"
	"grimm.is/humangym/internal/protocol"
)

// DefaultTimeout bounds one background upload.
const DefaultTimeout = 5 * time.Minute

// Dispatcher accepts upload requests without blocking the caller.
type Dispatcher interface {
	Dispatch(req protocol.UploadRequest)
	// Wait blocks until every dispatched upload has finished or ctx ends.
	Wait(ctx context.Context) error
}

// Async runs each upload on its own goroutine.
type Async struct {
	uploader Uploader
	timeout  time.Duration
	log      *logging.Logger

	wg sync.WaitGroup
}

// NewAsync returns a dispatcher backed by uploader.
func NewAsync(uploader Uploader, logger *logging.Logger) *Async {
	if logger == nil {
		logger = logging.Default()
	}
	return &Async{
		uploader: uploader,
		timeout:  DefaultTimeout,
		log:      logger.WithComponent("upload"),
	}
}

// Dispatch implements Dispatcher. Failures are logged and counted; they
// never reach the session.
func (a *Async) Dispatch(req protocol.UploadRequest) {
	metrics.Get().Uploads.WithLabelValues(metrics.UploadDispatched).Inc()
	if err := Check(req); err != nil {
		a.log.Warn("dropping upload request", "error", err, "file", req.File)
		metrics.Get().RecordUpload(metrics.UploadFailed, 0, 0)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if _, err := a.uploader.Upload(ctx, req); err != nil {
			a.log.Error("upload failed", "error", err, "user", req.UserID, "file", req.File)
		}
	}()
}

// Wait implements Dispatcher.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Noop logs requests and uploads nothing. It serves dev mode.
type Noop struct {
	log *logging.Logger
}

// NewNoop returns a dispatcher that skips every upload.
func NewNoop(logger *logging.Logger) *Noop {
	if logger == nil {
		logger = logging.Default()
	}
	return &Noop{log: logger.WithComponent("upload")}
}

// Dispatch implements Dispatcher.
func (n *Noop) Dispatch(req protocol.UploadRequest) {
	metrics.Get().RecordUpload(metrics.UploadSkipped, 0, 0)
	n.log.Info("upload skipped", "bucket", req.Bucket, "key", ObjectKey(req), "path", req.FilePath)
}

// Wait implements Dispatcher.
func (n *Noop) Wait(context.Context) error { return nil }
