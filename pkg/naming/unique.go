package naming

import (
	"context"
)

// FindUniqueName returns a name derived from baseName that satisfies constraints and is not
// taken in ns. An invalid base is first repaired with ConvertToValidName using the
// constraints' locale. It returns false when the base cannot be repaired or the counters run
// out. Errors from ns and context cancellation are returned unchanged.
func FindUniqueName(ctx context.Context, baseName string, constraints Constraints, ns ResourceNamespace) (string, bool, error) {
	name := baseName
	if !constraints.IsValidName(name) {
		repaired, ok := constraints.ConvertToValidName(name, constraints.locale)
		if !ok {
			return "", false, nil
		}
		name = repaired
	}

	taken, err := ns.HasNamedItem(ctx, name)
	if err != nil {
		return "", false, err
	}
	if !taken {
		return name, true, nil
	}

	for i := 1; ; i++ {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		candidate, ok := constraints.IncrementName(name, i)
		if !ok {
			return "", false, nil
		}

		taken, err := ns.HasNamedItem(ctx, candidate)
		if err != nil {
			return "", false, err
		}
		if !taken {
			return candidate, true, nil
		}
	}
}
