package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func newFetchRetryPolicy() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.RandomizationFactor = 0.2
	exp.MaxInterval = 60 * time.Second
	exp.MaxElapsedTime = 0
	return exp
}

// fetch downloads a dump into a temporary file and returns its path.
// The caller removes the file when done with it. Transient errors are
// retried with exponential backoff until the fetch timeout expires.
func (ing *Ingester) fetch(ctx context.Context, url string) (string, error) {
	if ing.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ing.cfg.FetchTimeout)
		defer cancel()
	}

	tmp, err := os.CreateTemp("", "routegraphs-dump-")
	if err != nil {
		return "", err
	}

	err = backoff.Retry(func() error {
		return ing.fetchOnce(ctx, url, tmp)
	}, backoff.WithContext(newFetchRetryPolicy(), ctx))
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (ing *Ingester) fetchOnce(ctx context.Context, url string, out *os.File) error {
	// Rewind in case a previous attempt wrote a partial body.
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return backoff.Permanent(err)
	}
	if err := out.Truncate(0); err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := ing.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		err := fmt.Errorf("HTTP status %d", resp.StatusCode)
		if resp.StatusCode != 429 && resp.StatusCode < 500 {
			err = backoff.Permanent(err)
		}
		return err
	}

	_, err = io.Copy(out, resp.Body)
	return err
}

func (ing *Ingester) client() *http.Client {
	if ing.cfg.HTTPClient != nil {
		return ing.cfg.HTTPClient
	}
	return http.DefaultClient
}
