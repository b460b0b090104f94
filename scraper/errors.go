package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/nattapongw/ktw-product-api/models"
	"github.com/nattapongw/ktw-product-api/parser"
	"github.com/nattapongw/ktw-product-api/session"
)

// ErrAuth indicates the session could not be established. It is fatal for a
// whole batch: no fetch can proceed without a session.
type ErrAuth struct {
	Err error
}

func (e ErrAuth) Error() string {
	return fmt.Errorf("auth: %w", e.Err).Error()
}

func (e ErrAuth) Unwrap() error {
	return e.Err
}

// ErrNetwork indicates a transport-level failure for one SKU.
type ErrNetwork struct {
	Err error
}

func (e ErrNetwork) Error() string {
	return fmt.Errorf("network: %w", e.Err).Error()
}

func (e ErrNetwork) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates the SKU is absent from the catalog.
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrParse indicates the page markup was unrecognizable. Distinct from
// ErrNotFound so operators can tell a bad SKU from a changed site.
type ErrParse struct {
	Err error
}

func (e ErrParse) Error() string {
	return fmt.Errorf("parse: %w", e.Err).Error()
}

func (e ErrParse) Unwrap() error {
	return e.Err
}

// classifyFetchError maps transport errors and page-level parse errors onto
// the failure taxonomy.
func classifyFetchError(err error, statusCode int) error {
	if err != nil {
		if errors.Is(err, session.ErrLoginRejected) {
			return ErrAuth{Err: err}
		}
		if errors.Is(err, parser.ErrProductNotFound) {
			return ErrNotFound{Err: err}
		}
		if errors.Is(err, parser.ErrNoContainer) {
			return ErrParse{Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrNetwork{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return ErrNetwork{Err: err}
		}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		if statusCode == http.StatusNotFound {
			return ErrNotFound{Err: wrapped}
		}
		if statusCode < 200 || statusCode >= 300 {
			return ErrNetwork{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return ErrNetwork{Err: err}
}

// failureKind maps a classified error to the wire-level reason.
func failureKind(err error) models.FailureKind {
	var auth ErrAuth
	if errors.As(err, &auth) {
		return models.FailureAuth
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return models.FailureNotFound
	}
	var parseErr ErrParse
	if errors.As(err, &parseErr) {
		return models.FailureParse
	}
	return models.FailureNetwork
}

// newFailure builds the per-SKU failure record surfaced to callers.
func newFailure(sku string, err error) *models.FetchFailure {
	return &models.FetchFailure{
		SKU:    sku,
		Reason: failureKind(err),
		Detail: err.Error(),
	}
}
