package tokenlyconfig

import (
	"context"

	"github.com/keksclan/goTokenly/tokenly"
)

type loaderSettings struct {
	l Loader
}

// SettingsFromLoader adapts l to tokenly.SettingsSource. Use it with tokenly.WithSettings
// when the config file may be edited while the engine is running; the file is re-read on
// every invocation.
func SettingsFromLoader(l Loader) tokenly.SettingsSource {
	return loaderSettings{l: l}
}

func (s loaderSettings) Settings(ctx context.Context) (tokenly.Config, error) {
	cfg, err := s.l.Load(ctx)
	if err != nil {
		return tokenly.Config{}, err
	}
	return *cfg, nil
}
