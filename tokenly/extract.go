package tokenly

import (
	"fmt"

	"github.com/keksclan/goTokenly/internal/extract"
)

// Extract returns the most recently observed token in exchanges.
//
// Exchanges are scanned in order and every match in every response is considered; the last
// non-empty capture of group 1 wins. Exchanges without a response are skipped. An empty
// exchange list returns no token without compiling or scanning anything. A pattern without
// a capture group fails with ErrInvalidConfig.
func Extract(exchanges []Exchange, pattern string) (string, bool, error) {
	if len(exchanges) == 0 {
		return "", false, nil
	}
	p, err := extract.Compile(pattern, DefaultMatchTimeout)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return scanExchanges(p, exchanges, nil)
}

func scanExchanges(p *extract.Pattern, exchanges []Exchange, accept extract.AcceptFunc) (string, bool, error) {
	var (
		token string
		found bool
	)
	for _, ex := range exchanges {
		if !ex.HasResponse() {
			continue
		}
		t, ok, err := p.Scan(ex.Response.String(), accept)
		if err != nil {
			return "", false, err
		}
		if ok {
			token, found = t, true
		}
	}
	return token, found, nil
}
