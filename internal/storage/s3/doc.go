/*
Package s3 is the AWS storage driver: it turns provider contexts into S3 clients and exposes
the global bucket namespace to unique-name resolution.

# Clients

ClientFactory keeps one *s3.Client per endpoint, region and account in a singleton cache
registered at cache.LevelRegionAccount, so a client built for one account is never handed to
another. Credentials are copied out of the provider context when the client is created. A
context whose credentials were wiped evicts its client and is refused with CREDENTIALS_WIPED.

	factory, err := s3.NewClientFactory(s3.NewDefaultConfig(), nil, slog.Default())
	client, err := factory.Client(ctx, provider.Context())

Custom endpoints (MinIO, LocalStack) are used when the context's endpoint is an http(s) URL.
Set the context property "aws.force_path_style" to "true", or Config.ForcePathStyle, for
servers without virtual-hosted buckets.

# Bucket names

Bucket names share one namespace across all AWS accounts. BucketNamespace answers
HasNamedItem with HeadBucket:

	200          taken (ours)
	403, 301     taken (someone else's, or another region)
	404          free

Throttling and server errors are retried with pkg/retry; anything else surfaces as a
CloudError with the HTTP status and AWS error code attached.

	ns := s3.NewBucketNamespace(p, factory, s3.WithOperationRecorder(collector))
	name, ok, err := ns.FindBucketName(ctx, "Team Logs") // "team-logs", "team-logs-0", ...

The provider is held for the whole search, so a concurrent Close cannot wipe the
credentials between lookups.
*/
package s3
