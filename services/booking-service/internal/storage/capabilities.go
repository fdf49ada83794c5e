package storage

import (
	"context"
	"fmt"
	"strings"
)

// Capabilities describes optional schema features, resolved once at startup.
type Capabilities struct {
	// SessionsHaveOwner is true when sessions.user_id exists. Older
	// deployments only link sessions to coaches through clients.
	SessionsHaveOwner bool
}

type ColumnProber interface {
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// DetectCapabilities probes the schema unless mode forces a value. mode is
// "auto" (or empty), "true" or "false".
func DetectCapabilities(ctx context.Context, prober ColumnProber, mode string) (Capabilities, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "true", "1", "yes":
		return Capabilities{SessionsHaveOwner: true}, nil
	case "false", "0", "no":
		return Capabilities{}, nil
	case "", "auto":
	default:
		return Capabilities{}, fmt.Errorf("invalid sessions owner mode %q", mode)
	}
	owner, err := prober.ColumnExists(ctx, "sessions", "user_id")
	if err != nil {
		return Capabilities{}, err
	}
	return Capabilities{SessionsHaveOwner: owner}, nil
}
