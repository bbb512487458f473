/*
Package types provides the context model every cloudspi component is scoped by.

A driver module connects a provider with a ProviderContext describing which cloud, region and
account it talks to, and the credentials it authenticates with:

	┌──────────────────────────────────────┐
	│            ProviderContext           │
	│  Cloud ──► Endpoint (partition root) │
	│  RegionID        (partition level 2) │
	│  AccountNumber   (partition level 3) │
	│  Credentials     (wiped on close)    │
	└──────────────────────────────────────┘

The endpoint, region and account are consumed verbatim as cache partition key components: no
case folding or trimming is applied, so two contexts share a cache partition only when the strings
are identical.

# Credential Lifetime

Credentials are plain byte slices so that they can be overwritten in place. Credentials.Wipe
replaces every byte with random data; the provider lifecycle in package provider calls it once no
in-flight operation holds the provider any longer.
*/
package types
