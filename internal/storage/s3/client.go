package s3

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudspi/cloudspi/internal/cache"
	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/types"
)

// ClientFactory builds S3 clients from provider contexts and keeps one per region and account,
// so credentials are resolved once rather than on every call.
type ClientFactory struct {
	config  *Config
	clients *cache.SingletonCache[*s3.Client]
	logger  *slog.Logger
}

// NewClientFactory creates a factory whose clients are cached in reg (the default registry
// when nil) at LevelRegionAccount.
func NewClientFactory(cfg *Config, reg *cache.Registry, logger *slog.Logger, opts ...cache.Option) (*ClientFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f := &ClientFactory{
		config: cfg.withDefaults(),
		logger: logger.With("component", "s3-clients"),
	}

	clients, err := cache.GetSingleton[*s3.Client](reg, f, "clients", cache.LevelRegionAccount, opts...)
	if err != nil {
		return nil, err
	}
	f.clients = clients
	return f, nil
}

// Client returns the cached client for pctx, creating it on first use.
func (f *ClientFactory) Client(ctx context.Context, pctx *types.ProviderContext) (*s3.Client, error) {
	if pctx == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidContext, "provider context is required").
			WithComponent("s3").
			WithOperation("Client")
	}
	if pctx.Credentials.IsWiped() {
		// a cached client still holds a copy of the keys
		f.clients.Invalidate(pctx)
		return nil, errors.NewError(errors.ErrCodeCredentialsWiped, "provider credentials were wiped").
			WithComponent("s3").
			WithOperation("Client")
	}

	return f.clients.GetOrLoad(ctx, pctx, func(ctx context.Context) (*s3.Client, error) {
		return f.newClient(ctx, pctx)
	})
}

// Invalidate drops the cached client for pctx, typically after its provider disconnected.
func (f *ClientFactory) Invalidate(pctx *types.ProviderContext) bool {
	return f.clients.Invalidate(pctx)
}

// CacheName returns the qualified name of the client cache.
func (f *ClientFactory) CacheName() string {
	return f.clients.Name()
}

func (f *ClientFactory) newClient(ctx context.Context, pctx *types.ProviderContext) (*s3.Client, error) {
	if pctx.Credentials.IsEmpty() {
		return nil, errors.NewError(errors.ErrCodeCredentialsMissing, "provider context carries no access key").
			WithComponent("s3").
			WithOperation("Client").
			WithContext("account", pctx.Account())
	}

	region := pctx.Region()
	if region == "" {
		region = f.config.DefaultRegion
	}

	// string conversions copy the key material out of the wipeable buffers
	creds := credentials.NewStaticCredentialsProvider(
		string(pctx.Credentials.AccessPublic),
		string(pctx.Credentials.AccessPrivate),
		pctx.Property(PropertySessionToken, ""),
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryMaxAttempts(f.config.MaxRetries),
		config.WithCredentialsProvider(creds),
		config.WithHTTPClient(&http.Client{Timeout: f.config.RequestTimeout}),
	)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConnectionFailed, "failed to load AWS config").
			WithComponent("s3").
			WithOperation("Client").
			WithCause(err)
	}

	endpoint := pctx.CloudEndpoint()
	pathStyle := f.config.ForcePathStyle || strings.EqualFold(pctx.Property(PropertyPathStyle, ""), "true")

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if pathStyle {
			o.UsePathStyle = true
		}
		if f.config.UseDualStack {
			o.EndpointOptions.UseDualStackEndpoint = aws.DualStackEndpointStateEnabled
		}
	})

	f.logger.Info("S3 client created",
		"endpoint", endpoint,
		"region", region,
		"path_style", pathStyle)

	return client, nil
}
