//go:build windows || (js && wasm)

package engine

import (
	"fmt"
	"runtime"

	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/model"
)

func init() {
	Register(config.DelegateORT, func(m *model.Model, _ Config) (Engine, error) {
		return nil, fmt.Errorf("%w: purego ONNX Runtime on %s/%s (model %q)", ErrUnsupported, runtime.GOOS, runtime.GOARCH, m.Name())
	})
}
