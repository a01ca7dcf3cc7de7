// Package sequence composes a runtime upgrade and a rolling image upgrade
// into one operation that restores a snapshot at most once.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
)

type Order string

const (
	RuntimeThenImage Order = "runtime-then-image"
	ImageThenRuntime Order = "image-then-runtime"
)

func ParseOrder(s string) (Order, error) {
	switch o := Order(s); o {
	case RuntimeThenImage, ImageThenRuntime:
		return o, nil
	}
	return "", fmt.Errorf("unknown upgrade order %q, want %s or %s", s, RuntimeThenImage, ImageThenRuntime)
}

// RuntimeStep runs a runtime upgrade. An empty snapshot means no restore;
// skipRun means the network is already up.
type RuntimeStep func(ctx context.Context, snapshot string, skipRun bool) error

// ImageStep runs a rolling image upgrade, restoring snapshot first when set.
type ImageStep func(ctx context.Context, snapshot string) error

type Composer struct {
	Runtime RuntimeStep
	Image   ImageStep
}

func (c *Composer) Run(ctx context.Context, namespace string, order Order, snapshot string) error {
	switch order {
	case RuntimeThenImage:
		slog.Info("Executing upgrade sequence", "namespace", namespace, "order", "runtime upgrade then client rollout")
		if err := c.Runtime(ctx, snapshot, false); err != nil {
			return fmt.Errorf("runtime upgrade step failed: %w", err)
		}
		if err := c.Image(ctx, ""); err != nil {
			return fmt.Errorf("image upgrade step failed: %w", err)
		}
	case ImageThenRuntime:
		slog.Info("Executing upgrade sequence", "namespace", namespace, "order", "client rollout then runtime upgrade")
		if err := c.Image(ctx, snapshot); err != nil {
			return fmt.Errorf("image upgrade step failed: %w", err)
		}
		if err := c.Runtime(ctx, "", true); err != nil {
			return fmt.Errorf("runtime upgrade step failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown upgrade order %q", order)
	}
	slog.Info("Upgrade sequence complete", "namespace", namespace)
	return nil
}
