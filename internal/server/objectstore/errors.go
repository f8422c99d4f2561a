package objectstore

import (
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/ishlearn/internal/common"
)

// StatusError is a store failure other than not-found. Status is the HTTP
// status the store answered with, or 500 when none is known.
type StatusError struct {
	Op     string
	Key    string
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("object store %s %q: status %d: %v", e.Op, e.Key, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// classify turns an SDK error into common.ErrorNotFound, common.ErrorDuplicate
// for a failed conditional write, or a *StatusError.
func classify(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("object store %s %q: %w", op, key, common.ErrorNotFound)
	}
	if isPreconditionFailed(err) {
		return fmt.Errorf("object store %s %q: %w", op, key, common.ErrorDuplicate)
	}
	status, ok := httpStatusCode(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	return &StatusError{Op: op, Key: key, Status: status, Err: err}
}

func httpStatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode(), true
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode(), true
	}
	return 0, false
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	if status, ok := httpStatusCode(err); ok {
		return status == http.StatusNotFound
	}
	return false
}

// isPreconditionFailed reports a conditional write lost to an existing object.
// S3 answers 412; some compatible stores answer 409 ConditionalRequestConflict.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	if status, ok := httpStatusCode(err); ok {
		return status == http.StatusPreconditionFailed
	}
	return false
}
