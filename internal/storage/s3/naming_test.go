package s3

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudspi/cloudspi/internal/cache"
	"github.com/cloudspi/cloudspi/internal/circuit"
	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/provider"
	"github.com/cloudspi/cloudspi/pkg/retry"
	"github.com/cloudspi/cloudspi/pkg/types"
	"github.com/cloudspi/cloudspi/pkg/utils"
)

// fakeS3 answers HeadBucket for path-style requests. Buckets missing from status get a 404.
type fakeS3 struct {
	mu       sync.Mutex
	status   map[string][]int
	requests map[string]int
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{status: map[string][]int{}, requests: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(srv.Close)
	return f, srv
}

// respond queues the statuses returned for bucket, one per request; the last repeats.
func (f *fakeS3) respond(bucket string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[bucket] = statuses
}

func (f *fakeS3) count(bucket string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[bucket]
}

func (f *fakeS3) serveHTTP(w http.ResponseWriter, r *http.Request) {
	bucket := strings.Trim(r.URL.Path, "/")

	f.mu.Lock()
	n := f.requests[bucket]
	f.requests[bucket] = n + 1
	statuses, ok := f.status[bucket]
	f.mu.Unlock()

	status := http.StatusNotFound
	if ok {
		status = statuses[min(n, len(statuses)-1)]
	}
	w.WriteHeader(status)
}

type fakeOperations struct {
	mu    sync.Mutex
	calls []error
}

func (r *fakeOperations) RecordOperation(_ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, err)
}

func fastRetryer() *retry.Retryer {
	config := retry.DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 2 * time.Millisecond
	config.Jitter = false
	return retry.New(config)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serverContext(endpoint string) *types.ProviderContext {
	return &types.ProviderContext{
		Cloud:         types.Cloud{Name: "aws", ProviderName: "Amazon", CloudName: "AWS", Endpoint: endpoint},
		AccountNumber: "123456789012",
		RegionID:      "us-west-2",
		Credentials:   types.NewAccessKeyCredentials("AKIDEXAMPLE", "secret"),
	}
}

func newTestFactory(t *testing.T) *ClientFactory {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	factory, err := NewClientFactory(&Config{ForcePathStyle: true, MaxRetries: 1}, cache.NewRegistry(), testLogger(),
		cache.WithLogger(utils.NewDiscardLogger()))
	require.NoError(t, err)
	return factory
}

func newTestNamespace(t *testing.T, endpoint string, opts ...NamespaceOption) (*BucketNamespace, *provider.CloudProvider) {
	t.Helper()
	p := provider.New("aws", provider.Config{
		HoldPollInterval: 10 * time.Millisecond,
		Logger:           utils.NewDiscardLogger(),
	})
	t.Cleanup(p.Shutdown)
	require.NoError(t, p.Connect(serverContext(endpoint)))

	opts = append([]NamespaceOption{WithRetryer(fastRetryer())}, opts...)
	return NewBucketNamespace(p, newTestFactory(t), opts...), p
}

func TestBucketConstraints(t *testing.T) {
	nc := BucketConstraints()

	tests := []struct {
		name  string
		valid bool
	}{
		{"my-bucket", true},
		{"logs.example.com", true},
		{"1st-bucket", true},
		{"ab", false},
		{"bucket-", false},
		{"-bucket", false},
		{"My-Bucket", false},
		{"bucket_name", false},
		{strings.Repeat("a", 64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, nc.IsValidName(tt.name))
		})
	}
}

func TestBucketNamespace_HasNamedItem(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		wantExists bool
		wantCode   errors.ErrorCode
	}{
		{"owned bucket", []int{http.StatusOK}, true, ""},
		{"free name", []int{http.StatusNotFound}, false, ""},
		{"foreign bucket", []int{http.StatusForbidden}, true, ""},
		{"throttled then found", []int{http.StatusServiceUnavailable, http.StatusOK}, true, ""},
		{"throttled throughout", []int{http.StatusServiceUnavailable}, false, errors.ErrCodeRetryExhausted},
		{"bad credentials", []int{http.StatusUnauthorized}, false, errors.ErrCodeAuthenticationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, srv := newFakeS3(t)
			fake.respond("bucket", tt.statuses...)
			ns, _ := newTestNamespace(t, srv.URL)

			exists, err := ns.HasNamedItem(context.Background(), "bucket")

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExists, exists)
		})
	}
}

func TestBucketNamespace_RetriesThrottling(t *testing.T) {
	fake, srv := newFakeS3(t)
	fake.respond("bucket", http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
	ops := &fakeOperations{}
	ns, _ := newTestNamespace(t, srv.URL, WithOperationRecorder(ops))

	exists, err := ns.HasNamedItem(context.Background(), "bucket")

	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 3, fake.count("bucket"))
	require.Len(t, ops.calls, 3)
	assert.True(t, errors.HasCode(ops.calls[0], errors.ErrCodeThrottled))
	assert.NoError(t, ops.calls[2])
}

func TestBucketNamespace_NotConnected(t *testing.T) {
	_, srv := newFakeS3(t)
	ns, p := newTestNamespace(t, srv.URL)
	p.Close()

	_, err := ns.HasNamedItem(context.Background(), "bucket")

	assert.True(t, errors.HasCode(err, errors.ErrCodeNotConnected), "got %v", err)
}

func TestBucketNamespace_FindBucketName(t *testing.T) {
	fake, srv := newFakeS3(t)
	fake.respond("team-logs", http.StatusOK)
	fake.respond("team-logs-0", http.StatusForbidden)
	ns, p := newTestNamespace(t, srv.URL)

	name, ok, err := ns.FindBucketName(context.Background(), "Team Logs")

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "team-logs-1", name)
	assert.Equal(t, 0, p.HoldCount())
	assert.Equal(t, 1, fake.count("team-logs-1"))
}

func TestBucketNamespace_BreakerStopsLookups(t *testing.T) {
	fake, srv := newFakeS3(t)
	fake.respond("bucket", http.StatusServiceUnavailable)
	breakers := circuit.NewManager(circuit.Config{ConsecutiveFailures: 3})
	ns, _ := newTestNamespace(t, srv.URL, WithBreakers(breakers))

	_, err := ns.HasNamedItem(context.Background(), "bucket")
	require.True(t, errors.HasCode(err, errors.ErrCodeRetryExhausted), "got %v", err)
	assert.Equal(t, []string{srv.URL}, breakers.OpenEndpoints())

	_, err = ns.HasNamedItem(context.Background(), "bucket")
	assert.True(t, errors.HasCode(err, errors.ErrCodeCircuitOpen), "got %v", err)
	assert.Equal(t, 3, fake.count("bucket"))
}
