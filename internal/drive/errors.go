package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/kozaktomas/facescan/internal/scan"
)

// classify maps Drive and transport failures onto the scan error taxonomy.
// When the caller's own context is done the error is returned as is, so the
// caller can tell its deadline apart from a slow server.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, scan.ErrAuthExpired) || errors.Is(err, scan.ErrTransientIO) {
		return err
	}
	var status *scan.HTTPStatusError
	if errors.As(err, &status) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("drive request: %w", err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", scan.ErrAuthExpired, reason(gerr))
		}
		return &scan.HTTPStatusError{Code: gerr.Code, Message: reason(gerr)}
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", scan.ErrAuthExpired, rerr)
	}

	if kind := transientKind(err); kind != "" {
		return &scan.TransientError{Kind: kind, Err: err}
	}
	return err
}

func transientKind(err error) string {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if opErr.Timeout() {
			return "ConnectTimeout"
		}
		return "ConnectError"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "ReadTimeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ReadTimeout"
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return "NetworkError"
	}
	if errors.As(err, &netErr) {
		return "NetworkError"
	}
	return ""
}

func reason(gerr *googleapi.Error) string {
	if len(gerr.Errors) > 0 && gerr.Errors[0].Message != "" {
		return gerr.Errors[0].Message
	}
	if gerr.Message != "" {
		return gerr.Message
	}
	return http.StatusText(gerr.Code)
}
