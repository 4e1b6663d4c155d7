//go:build !sqlite
// +build !sqlite

package history

import (
	"fmt"

	logx "pewprobe/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, fmt.Errorf("%w: sqlite driver not built (use -tags sqlite)", ErrDisabled)
}
