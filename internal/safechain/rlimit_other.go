//go:build !unix

package safechain

import "context"

// raiseNoFile is a no-op on platforms without RLIMIT_NOFILE (Windows).
func raiseNoFile(ctx context.Context, concurrency int) {}
