/*
Package provider implements the connection lifecycle shared by every cloud driver.

A CloudProvider is connected with a types.ProviderContext and owns its credentials from then
on. Operations that use the credentials bracket themselves with Hold and Release:

	p.Hold()
	defer p.Release()
	pctx, err := p.RequireContext()

Close never wipes credentials out from under a held operation. With holds outstanding it
returns immediately and a background task wipes the credentials once the last hold is
released, or after Config.MaxHoldWait (20 minutes by default) if a caller leaks a hold.
Shutdown skips the wait.

A storage provider may run over a compute provider with ConnectWithCompute. Its holds are
counted on the compute provider, its Close only detaches it, and it is detached when the
compute provider wipes its credentials.
*/
package provider
