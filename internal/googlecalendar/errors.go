package googlecalendar

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/lumehq/lume/internal/calendarsync"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var rateLimitReasons = map[string]struct{}{
	"rateLimitExceeded":     {},
	"userRateLimitExceeded": {},
	"quotaExceeded":         {},
}

// classify wraps a Google API failure in a calendarsync.ExternalError.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &calendarsync.ExternalError{Class: classOf(err), Operation: operation, Err: err}
}

func classOf(err error) calendarsync.ExternalClass {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return calendarsync.ExternalAuthInvalid
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classOfStatus(apiErr)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return calendarsync.ExternalTransientNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return calendarsync.ExternalTransientNetwork
	}
	return calendarsync.ExternalOther
}

func classOfStatus(apiErr *googleapi.Error) calendarsync.ExternalClass {
	switch {
	case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
		return calendarsync.ExternalNotFound
	case apiErr.Code == http.StatusUnauthorized:
		return calendarsync.ExternalAuthInvalid
	case apiErr.Code == http.StatusTooManyRequests:
		return calendarsync.ExternalRateLimited
	case apiErr.Code == http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if _, ok := rateLimitReasons[item.Reason]; ok {
				return calendarsync.ExternalRateLimited
			}
		}
		return calendarsync.ExternalAuthInvalid
	case apiErr.Code >= http.StatusInternalServerError:
		return calendarsync.ExternalTransientNetwork
	default:
		return calendarsync.ExternalOther
	}
}
