package types

import (
	"crypto/rand"
	"strings"

	"github.com/cloudspi/cloudspi/pkg/errors"
)

// Cloud identifies a cloud endpoint and the provider serving it.
type Cloud struct {
	Name         string `yaml:"name" json:"name"`
	ProviderName string `yaml:"provider_name" json:"provider_name"`
	CloudName    string `yaml:"cloud_name" json:"cloud_name"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
}

// Credentials holds the key material a provider authenticates with.
type Credentials struct {
	AccessPublic  []byte `json:"-"`
	AccessPrivate []byte `json:"-"`
	X509Cert      []byte `json:"-"`
	X509Key       []byte `json:"-"`

	wiped bool
}

// NewAccessKeyCredentials builds credentials from an access key pair.
func NewAccessKeyCredentials(public, private string) *Credentials {
	return &Credentials{
		AccessPublic:  []byte(public),
		AccessPrivate: []byte(private),
	}
}

// Wipe overwrites all key material with random bytes. It is idempotent.
func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	for _, key := range [][]byte{c.AccessPublic, c.AccessPrivate, c.X509Cert, c.X509Key} {
		if len(key) > 0 {
			_, _ = rand.Read(key)
		}
	}
	c.wiped = true
}

// IsWiped reports whether Wipe has been called.
func (c *Credentials) IsWiped() bool {
	return c != nil && c.wiped
}

// IsEmpty reports whether no key material is present.
func (c *Credentials) IsEmpty() bool {
	return c == nil || (len(c.AccessPublic) == 0 && len(c.AccessPrivate) == 0 &&
		len(c.X509Cert) == 0 && len(c.X509Key) == 0)
}

// ProviderContext scopes a provider connection to a cloud, region and account.
type ProviderContext struct {
	Cloud            Cloud             `yaml:"cloud" json:"cloud"`
	AccountNumber    string            `yaml:"account_number" json:"account_number"`
	RegionID         string            `yaml:"region_id" json:"region_id"`
	Credentials      *Credentials      `yaml:"-" json:"-"`
	CustomProperties map[string]string `yaml:"custom_properties" json:"custom_properties,omitempty"`
}

// CloudEndpoint returns the cloud endpoint, the root of every cache partition key.
func (c *ProviderContext) CloudEndpoint() string {
	return c.Cloud.Endpoint
}

// Region returns the region ID.
func (c *ProviderContext) Region() string {
	return c.RegionID
}

// Account returns the account number.
func (c *ProviderContext) Account() string {
	return c.AccountNumber
}

// Property returns a custom property, or def when unset.
func (c *ProviderContext) Property(key, def string) string {
	if v, ok := c.CustomProperties[key]; ok {
		return v
	}
	return def
}

// Validate checks that the context can identify a cache partition.
func (c *ProviderContext) Validate() error {
	var missing []string
	if c.Cloud.Endpoint == "" {
		missing = append(missing, "cloud endpoint")
	}
	if c.AccountNumber == "" {
		missing = append(missing, "account number")
	}
	if len(missing) > 0 {
		return errors.NewError(errors.ErrCodeInvalidContext, "provider context is incomplete").
			WithComponent("types").
			WithDetail("missing", strings.Join(missing, ", "))
	}
	if c.Credentials.IsWiped() {
		return errors.NewError(errors.ErrCodeCredentialsWiped, "provider context credentials were wiped").
			WithComponent("types")
	}
	return nil
}
