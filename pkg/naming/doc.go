/*
Package naming describes the names clouds accept for their resources and derives valid,
unused names from arbitrary user input.

A Constraints value captures one resource type's rules: length bounds, which character
classes are allowed, letter case, first and last character rules and an optional advisory
pattern. Drivers publish them once and share them:

	var bucketNames = naming.Strict(3, 63).
		WithSymbolConstraints('-', '.').
		WithFirstCharacterNumericAllowed(true).
		WithLastCharacterSymbolAllowed(false)

ConvertToValidName repairs a candidate, IncrementName derives numbered alternatives, and
FindUniqueName combines both with a ResourceNamespace lookup:

	name, ok, err := naming.FindUniqueName(ctx, "My Bucket", bucketNames, ns)

Lookups are never retried here; namespaces that talk to a cloud retry on their own.
*/
package naming
