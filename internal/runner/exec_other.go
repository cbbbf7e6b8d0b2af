//go:build !linux

package runner

import (
	"context"

	"go.uber.org/zap"
)

func (r *Runner) execute(_ context.Context, _ Request, _ []string, _ string, _ *zap.Logger) (*Result, error) {
	return nil, ErrUnsupported
}
