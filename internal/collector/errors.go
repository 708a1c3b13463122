package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"github.com/qepting91/redditbot/internal/domain"
	"golang.org/x/oauth2"
)

// translate maps transport and API errors onto the domain taxonomy.
// reset is the last known quota reset, used for RATELIMIT api errors.
func translate(err error, reset time.Time) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rle *reddit.RateLimitError
	if errors.As(err, &rle) {
		return &domain.RateLimitError{Reset: rle.Rate.Reset, Err: err}
	}

	var er *reddit.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		if e := fromStatus(er.Response.StatusCode, err, reset); e != nil {
			return e
		}
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		if e := fromStatus(re.Response.StatusCode, err, reset); e != nil {
			return e
		}
	}

	// reddit reports comment/message throttling as an api error label
	if strings.Contains(err.Error(), "RATELIMIT") {
		if reset.IsZero() {
			reset = time.Now().Add(time.Minute)
		}
		return &domain.RateLimitError{Reset: reset, Err: err}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return domain.Transient(err)
	}
	return err
}

func fromStatus(code int, err error, reset time.Time) error {
	switch {
	case code == http.StatusTooManyRequests:
		if reset.IsZero() {
			reset = time.Now().Add(time.Minute)
		}
		return &domain.RateLimitError{Reset: reset, Err: err}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrForbidden, err)
	case code >= 500:
		return domain.Transient(err)
	}
	return nil
}
