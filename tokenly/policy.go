package tokenly

import "fmt"

// ClaimPolicy accepts or rejects candidate tokens by their decoded JWT claims.
// Opaque tokens have no claims, so any Required entry rejects them.
type ClaimPolicy struct {
	Required []string
	Denylist []string
}

func (p ClaimPolicy) isZero() bool {
	return len(p.Required) == 0 && len(p.Denylist) == 0
}

func (p ClaimPolicy) Validate(claims map[string]any) error {
	for _, k := range p.Required {
		if _, ok := claims[k]; !ok {
			return fmt.Errorf("%w: %s", ErrClaimMissing, k)
		}
	}
	for _, k := range p.Denylist {
		if _, ok := claims[k]; ok {
			return fmt.Errorf("%w: %s", ErrClaimForbidden, k)
		}
	}
	return nil
}
