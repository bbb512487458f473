package s3

import (
	"context"
	stderrors "errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cloudspi/cloudspi/pkg/errors"
)

// isNotFound reports whether err says the bucket does not exist.
func isNotFound(err error) bool {
	switch {
	case isErrorType[*s3types.NotFound](err), isErrorType[*s3types.NoSuchBucket](err):
		return true
	case apiErrorCode(err) == "NotFound", apiErrorCode(err) == "NoSuchBucket":
		return true
	}
	return statusCode(err) == http.StatusNotFound
}

// translateError maps an SDK error to a CloudError carrying a retry hint.
func translateError(err error, operation, bucket string) error {
	status := statusCode(err)
	code := apiErrorCode(err)

	var errCode errors.ErrorCode
	switch {
	case stderrors.Is(err, context.Canceled):
		errCode = errors.ErrCodeOperationCanceled
	case stderrors.Is(err, context.DeadlineExceeded):
		errCode = errors.ErrCodeOperationTimeout
	case status == http.StatusForbidden || code == "AccessDenied" || code == "Forbidden":
		errCode = errors.ErrCodeAccessDenied
	case status == http.StatusUnauthorized || code == "InvalidAccessKeyId" || code == "SignatureDoesNotMatch":
		errCode = errors.ErrCodeAuthenticationFailed
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable || code == "SlowDown":
		errCode = errors.ErrCodeThrottled
	case status >= http.StatusInternalServerError:
		errCode = errors.ErrCodeNetworkError
	case status == 0:
		// no HTTP response at all
		errCode = errors.ErrCodeConnectionFailed
	default:
		errCode = errors.ErrCodeNamespaceLookup
	}

	ce := errors.NewError(errCode, operation+" failed").
		WithComponent("s3").
		WithOperation(operation).
		WithContext("bucket", bucket).
		WithCause(err)
	if status != 0 {
		ce = ce.WithDetail("status", status)
	}
	if code != "" {
		ce = ce.WithDetail("aws_code", code)
	}
	return ce
}

func statusCode(err error) int {
	var re *awshttp.ResponseError
	if stderrors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
