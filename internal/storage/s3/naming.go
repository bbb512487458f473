package s3

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudspi/cloudspi/internal/circuit"
	"github.com/cloudspi/cloudspi/pkg/naming"
	"github.com/cloudspi/cloudspi/pkg/provider"
	"github.com/cloudspi/cloudspi/pkg/retry"
)

// BucketConstraints returns the S3 bucket naming rules: 3 to 63 lowercase letters, digits,
// hyphens and dots, starting and ending with a letter or digit.
func BucketConstraints() naming.Constraints {
	return naming.Strict(3, 63).
		WithSymbolConstraints('-', '.').
		WithFirstCharacterNumericAllowed(true).
		WithLastCharacterSymbolAllowed(false).
		WithRegularExpression(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)
}

// OperationRecorder receives the outcome of every S3 call. internal/metrics.Collector
// implements it.
type OperationRecorder interface {
	RecordOperation(operation string, duration time.Duration, err error)
}

type nopOperationRecorder struct{}

func (nopOperationRecorder) RecordOperation(string, time.Duration, error) {}

// BucketNamespace is the global S3 bucket namespace as seen through a connected provider.
// A bucket is taken when HeadBucket finds it, including buckets owned by other accounts
// that answer 403 or redirect to another region.
type BucketNamespace struct {
	provider *provider.CloudProvider
	clients  *ClientFactory
	retryer  *retry.Retryer
	breakers *circuit.Manager
	recorder OperationRecorder
	logger   *slog.Logger
}

// NamespaceOption configures a BucketNamespace
type NamespaceOption func(*BucketNamespace)

// WithRetryer replaces the default retry policy for HeadBucket.
func WithRetryer(r *retry.Retryer) NamespaceOption {
	return func(ns *BucketNamespace) { ns.retryer = r }
}

// WithBreakers rejects lookups against an endpoint that keeps failing.
func WithBreakers(m *circuit.Manager) NamespaceOption {
	return func(ns *BucketNamespace) { ns.breakers = m }
}

// WithOperationRecorder records every HeadBucket call.
func WithOperationRecorder(r OperationRecorder) NamespaceOption {
	return func(ns *BucketNamespace) { ns.recorder = r }
}

// NewBucketNamespace creates the namespace over p's current connection.
func NewBucketNamespace(p *provider.CloudProvider, clients *ClientFactory, opts ...NamespaceOption) *BucketNamespace {
	ns := &BucketNamespace{
		provider: p,
		clients:  clients,
		recorder: nopOperationRecorder{},
		logger:   clients.logger.With("provider", p.Name()),
	}
	for _, opt := range opts {
		opt(ns)
	}
	if ns.retryer == nil {
		ns.retryer = retry.New(retry.DefaultConfig())
	}
	return ns
}

var _ naming.ResourceNamespace = (*BucketNamespace)(nil)

// HasNamedItem reports whether a bucket called name exists anywhere in S3.
func (ns *BucketNamespace) HasNamedItem(ctx context.Context, name string) (bool, error) {
	pctx, err := ns.provider.RequireContext()
	if err != nil {
		return false, err
	}
	client, err := ns.clients.Client(ctx, pctx)
	if err != nil {
		return false, err
	}

	retryer := ns.retryer.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		ns.logger.Warn("Retrying HeadBucket",
			"bucket", name,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	})

	var exists bool
	lookup := func(ctx context.Context) error {
		start := time.Now()
		var err error
		exists, err = headBucket(ctx, client, name)
		ns.recorder.RecordOperation("HeadBucket", time.Since(start), err)
		return err
	}
	err = retryer.DoWithContext(ctx, func(ctx context.Context) error {
		if ns.breakers == nil {
			return lookup(ctx)
		}
		return ns.breakers.Execute(ctx, pctx.CloudEndpoint(), lookup)
	})
	if err != nil {
		return false, err
	}

	ns.logger.Debug("Bucket lookup", "bucket", name, "exists", exists)
	return exists, nil
}

func headBucket(ctx context.Context, client *s3.Client, name string) (bool, error) {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	case statusCode(err) == http.StatusForbidden, statusCode(err) == http.StatusMovedPermanently:
		// someone else's bucket, or one in another region
		return true, nil
	}
	return false, translateError(err, "HeadBucket", name)
}

// FindBucketName returns a free bucket name derived from base, holding p for the search.
func (ns *BucketNamespace) FindBucketName(ctx context.Context, base string) (string, bool, error) {
	return ns.provider.FindUniqueName(ctx, base, BucketConstraints(), ns)
}
