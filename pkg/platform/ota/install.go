package ota

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ platform.Installer = (*Installer)(nil)

// Installer streams images over TLS into a platform.ImageSink.
type Installer struct {
	log    logging.Logger
	client *http.Client
	sink   platform.ImageSink

	// RetryDelay is the pause before the one retry of a transport failure.
	// Zero disables the retry.
	RetryDelay time.Duration
	// AllowInsecure permits plain http image URLs.
	AllowInsecure bool
}

func NewInstaller(log logging.Logger, client *http.Client, sink platform.ImageSink) *Installer {
	return &Installer{
		log:        log,
		client:     client,
		sink:       sink,
		RetryDelay: DefaultRetryDelay,
	}
}

// Install downloads imageURL into the sink and activates it. Transport
// failures are retried once after RetryDelay; verification and write failures
// are not.
func (i *Installer) Install(ctx context.Context, imageURL string) error {
	if err := i.checkURL(imageURL); err != nil {
		return &platform.InstallError{URL: imageURL, Stage: platform.StageTransport, Err: err}
	}
	log := i.log.WithField("url", imageURL)

	attempt := 0
	op := func() error {
		attempt++
		err := i.installOnce(ctx, log.WithField("attempt", attempt), imageURL)
		var ierr *platform.InstallError
		if errors.As(err, &ierr) && ierr.Stage != platform.StageTransport {
			return backoff.Permanent(err)
		}
		return err
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if i.RetryDelay > 0 {
		policy = backoff.WithMaxRetries(backoff.NewConstantBackOff(i.RetryDelay), 1)
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("delay", wait).Warn("download failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	var ierr *platform.InstallError
	if err != nil && !errors.As(err, &ierr) {
		// Cancelled between attempts.
		err = &platform.InstallError{URL: imageURL, Stage: platform.StageTransport, Err: err}
	}
	return err
}

func (i *Installer) checkURL(imageURL string) error {
	u, err := url.Parse(imageURL)
	if err != nil {
		return errors.Wrap(err, "invalid image url")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if i.AllowInsecure {
			return nil
		}
		return errors.New("refusing image url without tls")
	default:
		return errors.Errorf("unsupported image url scheme %q", u.Scheme)
	}
}

func (i *Installer) installOnce(ctx context.Context, log logrus.FieldLogger, imageURL string) error {
	fail := func(stage platform.InstallStage, err error) error {
		return &platform.InstallError{URL: imageURL, Stage: stage, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fail(platform.StageTransport, err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, AgentVersion))

	log.Info("downloading image")
	resp, err := i.client.Do(req)
	if err != nil {
		return fail(platform.StageTransport, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.WithError(cerr).Warn("error closing response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fail(platform.StageTransport, errors.Errorf("unexpected HTTP status: %d", resp.StatusCode))
	}

	w, err := i.sink.Begin()
	if err != nil {
		return fail(platform.StageWrite, err)
	}

	body := &readTracker{r: resp.Body}
	n, err := io.Copy(w, body)
	if err != nil {
		stage := platform.StageWrite
		if body.err != nil {
			stage = platform.StageTransport
		}
		if abortErr := w.Abort(); abortErr != nil {
			log.WithError(abortErr).Warn("unable to discard partial image")
		}
		return fail(stage, errors.Wrapf(err, "after %d bytes", n))
	}

	if err := w.Commit(resp.ContentLength); err != nil {
		stage := platform.StageWrite
		if errors.Is(err, platform.ErrVerification) {
			stage = platform.StageVerify
		}
		return fail(stage, err)
	}
	log.WithField("bytes", n).Info("image installed")
	return nil
}

// readTracker remembers read failures so they can be told apart from sink
// write failures after io.Copy.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
