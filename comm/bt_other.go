//go:build !linux && !windows

package comm

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

func lookupBonded(_, _ string, _ *zap.Logger) (string, error) {
	return "", fmt.Errorf("%w: bluetooth is not supported on %s", ErrTransportUnavailable, runtime.GOOS)
}

func newRFCOMM(_ string, _ uint8) (Transport, error) {
	return nil, fmt.Errorf("%w: bluetooth is not supported on %s", ErrTransportUnavailable, runtime.GOOS)
}
