//go:build !cgo || (js && wasm)

package engine

import (
	"fmt"

	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/model"
)

func init() {
	Register(config.DelegateORTCgo, func(m *model.Model, _ Config) (Engine, error) {
		return nil, fmt.Errorf("%w: %s requires a cgo build (model %q)", ErrUnsupported, config.DelegateORTCgo, m.Name())
	})
}
