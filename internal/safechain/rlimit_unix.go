//go:build unix

package safechain

import (
	"context"

	"github.com/quay/zlog"
	"golang.org/x/sys/unix"
)

// raiseNoFile raises the soft RLIMIT_NOFILE to max(current soft limit,
// concurrency*8) so a busy proxy doesn't starve for file descriptors under
// its own configured connection concurrency. Best-effort: a failure here
// is logged, not fatal, since the process may already have enough headroom.
func raiseNoFile(ctx context.Context, concurrency int) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		zlog.Warn(ctx).Err(err).Msg("safechain: getrlimit failed")
		return
	}

	want := uint64(concurrency * 8)
	if rlimit.Cur >= want {
		return
	}
	if rlimit.Max < want {
		want = rlimit.Max
	}
	rlimit.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		zlog.Warn(ctx).Err(err).Uint64("want", want).Msg("safechain: setrlimit failed")
	}
}
