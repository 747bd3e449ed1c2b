package downloader

import (
	"bytes"
	"context"
	stderrors "errors"
	"mime"
	"os"
	"strings"

	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/imageurl"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/models"
	"feedarchiver/pkg/ratelimit"
	"feedarchiver/pkg/retry"
	"feedarchiver/pkg/storage"

	"github.com/go-resty/resty/v2"
)

// AcquirerOptions configures an Acquirer
type AcquirerOptions struct {
	// MaxOriginalBytes is the ceiling for the unscaled tier
	MaxOriginalBytes int64
	// Retry applies to each tier attempt separately. Only transport, 429
	// and 5xx failures are retried.
	Retry *retry.Config
	// Limiter paces every request. Nil means unpaced.
	Limiter ratelimit.Limiter
}

// Acquirer downloads a single image, preferring the unscaled variant and
// falling back to the bounded one.
type Acquirer struct {
	client *resty.Client
	opts   AcquirerOptions
	log    logger.Logger
}

// NewAcquirer creates an Acquirer on top of a session-carrying client
func NewAcquirer(client *resty.Client, opts AcquirerOptions, log logger.Logger) *Acquirer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = log
	}
	return &Acquirer{
		client: client,
		opts:   opts,
		log:    log.WithField("component", "acquirer"),
	}
}

// Acquire writes the image at src to dest. The original tier is streamed
// and aborted once it passes the byte ceiling; the bounded tier is fetched
// in one piece. A DownloadError is returned when neither tier yields a
// non-empty image.
func (a *Acquirer) Acquire(ctx context.Context, src, dest string) (*models.DownloadResult, error) {
	log := a.log.WithField("dest", dest)

	n, origErr := a.attempt(ctx, func(ctx context.Context) (int64, error) {
		return a.fetchOriginal(ctx, src, dest)
	})
	if origErr == nil {
		return &models.DownloadResult{Tier: models.TierOriginal, Path: dest, Bytes: n}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log.WithError(origErr).Debug("original tier rejected, trying bounded")

	n, boundErr := a.attempt(ctx, func(ctx context.Context) (int64, error) {
		return a.fetchBounded(ctx, src, dest)
	})
	if boundErr == nil {
		return &models.DownloadResult{Tier: models.TierBounded, Path: dest, Bytes: n}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return nil, errors.Wrap(errors.ErrorTypeDownload, stderrors.Join(origErr, boundErr), "both tiers failed for %s", src)
}

func (a *Acquirer) attempt(ctx context.Context, fetch func(context.Context) (int64, error)) (int64, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) (int64, error) {
		if a.opts.Limiter != nil {
			if err := a.opts.Limiter.Wait(ctx); err != nil {
				return 0, err
			}
		}
		return fetch(ctx)
	}, a.opts.Retry)
}

func (a *Acquirer) fetchOriginal(ctx context.Context, src, dest string) (int64, error) {
	u, err := imageurl.RewriteWidth(src, imageurl.WidthOriginal)
	if err != nil {
		return 0, err
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u)
	if err != nil {
		return 0, errors.Wrap(errors.ErrorTypeNetwork, err, "request original")
	}
	body := resp.RawBody()
	defer body.Close()

	if err := acceptable(resp); err != nil {
		return 0, err
	}

	n, err := storage.WriteAtomic(dest, body, a.opts.MaxOriginalBytes)
	switch {
	case stderrors.Is(err, storage.ErrLimitExceeded):
		return 0, errors.New(errors.ErrorTypeDownload, "original exceeds %d bytes", a.opts.MaxOriginalBytes)
	case err != nil:
		return 0, errors.Wrap(errors.ErrorTypeNetwork, err, "stream original")
	case n == 0:
		os.Remove(dest)
		return 0, errors.New(errors.ErrorTypeDownload, "original is empty")
	}
	return n, nil
}

func (a *Acquirer) fetchBounded(ctx context.Context, src, dest string) (int64, error) {
	u, err := imageurl.RewriteWidth(src, imageurl.WidthBounded)
	if err != nil {
		return 0, err
	}

	resp, err := a.client.R().SetContext(ctx).Get(u)
	if err != nil {
		return 0, errors.Wrap(errors.ErrorTypeNetwork, err, "request bounded")
	}
	if err := acceptable(resp); err != nil {
		return 0, err
	}
	if len(resp.Body()) == 0 {
		return 0, errors.New(errors.ErrorTypeDownload, "bounded is empty")
	}

	n, err := storage.WriteAtomic(dest, bytes.NewReader(resp.Body()), 0)
	if err != nil {
		return 0, errors.Wrap(errors.ErrorTypeDownload, err, "write bounded")
	}
	return n, nil
}

// acceptable checks the status and that the body is an image
func acceptable(resp *resty.Response) error {
	if !resp.IsSuccess() {
		return errors.FromStatus(resp.StatusCode(), resp.Status())
	}
	ct := resp.Header().Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(strings.ToLower(mediaType), "image/") {
		return errors.New(errors.ErrorTypeDownload, "unexpected content type %q", ct)
	}
	return nil
}
