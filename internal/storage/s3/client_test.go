package s3

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/types"
)

func TestConfig_WithDefaults(t *testing.T) {
	var nilConfig *Config
	cfg := nilConfig.withDefaults()
	assert.Equal(t, NewDefaultConfig(), cfg)

	custom := &Config{DefaultRegion: "eu-west-1", ForcePathStyle: true}
	cfg = custom.withDefaults()
	assert.Equal(t, "eu-west-1", cfg.DefaultRegion)
	assert.True(t, cfg.ForcePathStyle)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Zero(t, custom.MaxRetries, "withDefaults must not modify the receiver")
}

func TestClientFactory_CachesPerRegionAndAccount(t *testing.T) {
	factory := newTestFactory(t)
	ctx := context.Background()

	first, err := factory.Client(ctx, serverContext("http://localhost:9000"))
	require.NoError(t, err)
	again, err := factory.Client(ctx, serverContext("http://localhost:9000"))
	require.NoError(t, err)
	assert.Same(t, first, again)

	other := serverContext("http://localhost:9000")
	other.RegionID = "eu-central-1"
	third, err := factory.Client(ctx, other)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	assert.Equal(t, "github.com/cloudspi/cloudspi/internal/storage/s3.ClientFactory.clients", factory.CacheName())
	assert.True(t, factory.Invalidate(other))
	assert.False(t, factory.Invalidate(other))
}

func TestClientFactory_Options(t *testing.T) {
	factory := newTestFactory(t)
	pctx := serverContext("http://localhost:9000")
	pctx.RegionID = ""

	client, err := factory.Client(context.Background(), pctx)
	require.NoError(t, err)

	opts := client.Options()
	assert.Equal(t, "us-east-1", opts.Region)
	assert.True(t, opts.UsePathStyle)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://localhost:9000", *opts.BaseEndpoint)

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
}

func TestClientFactory_Errors(t *testing.T) {
	factory := newTestFactory(t)
	ctx := context.Background()

	_, err := factory.Client(ctx, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidContext))

	empty := serverContext("http://localhost:9000")
	empty.Credentials = nil
	_, err = factory.Client(ctx, empty)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCredentialsMissing))

	pctx := serverContext("http://localhost:9000")
	_, err = factory.Client(ctx, pctx)
	require.NoError(t, err)

	pctx.Credentials.Wipe()
	_, err = factory.Client(ctx, pctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCredentialsWiped))
	assert.False(t, factory.Invalidate(pctx), "wiped credentials evict the cached client")
}

func responseError(status int, code string) error {
	var err error = &smithy.GenericAPIError{Code: code, Message: "test"}
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      err,
		},
	}
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorCode
	}{
		{"access denied", responseError(http.StatusForbidden, "AccessDenied"), errors.ErrCodeAccessDenied},
		{"bad key", responseError(http.StatusBadRequest, "InvalidAccessKeyId"), errors.ErrCodeAuthenticationFailed},
		{"slow down", responseError(http.StatusServiceUnavailable, "SlowDown"), errors.ErrCodeThrottled},
		{"too many requests", responseError(http.StatusTooManyRequests, ""), errors.ErrCodeThrottled},
		{"server error", responseError(http.StatusInternalServerError, "InternalError"), errors.ErrCodeNetworkError},
		{"client error", responseError(http.StatusBadRequest, "InvalidBucketName"), errors.ErrCodeNamespaceLookup},
		{"no response", fmt.Errorf("dial tcp: connection refused"), errors.ErrCodeConnectionFailed},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), errors.ErrCodeOperationCanceled},
		{"deadline", context.DeadlineExceeded, errors.ErrCodeOperationTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateError(tt.err, "HeadBucket", "bucket")

			assert.Equal(t, tt.want, errors.CodeOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(responseError(http.StatusNotFound, "")))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchBucket"}))
	assert.False(t, isNotFound(responseError(http.StatusForbidden, "AccessDenied")))
	assert.False(t, isNotFound(fmt.Errorf("dial tcp: connection refused")))
}

func TestClientFactory_CredentialsNotShared(t *testing.T) {
	factory := newTestFactory(t)
	pctx := serverContext("http://localhost:9000")
	pctx.Credentials = types.NewAccessKeyCredentials("AKIDOTHER", "other")

	client, err := factory.Client(context.Background(), pctx)
	require.NoError(t, err)

	pctx.Credentials.Wipe()
	creds, err := client.Options().Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDOTHER", creds.AccessKeyID, "clients keep their own copy of the key")
}
