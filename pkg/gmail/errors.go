package gmail

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"

	"google.golang.org/api/googleapi"
)

// classify maps Gmail API failures onto the provider error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", emaildomain.ErrNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", emaildomain.ErrTransient, err)
		case apiErr.Code == http.StatusForbidden && isRateLimitReason(apiErr):
			return fmt.Errorf("%w: %v", emaildomain.ErrTransient, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", emaildomain.ErrTransient, err)
	}
	return err
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
