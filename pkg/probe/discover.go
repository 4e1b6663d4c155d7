package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	st "github.com/showwin/speedtest-go/speedtest"
)

// DiscoverURL picks the nearest speedtest.net server and derives a
// download URL for it. Used when no probe target is configured.
func DiscoverURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Avoid package-level speedtest helpers; speedtest-go can keep
	// package-level state alive between calls.
	stc := st.New()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return "", fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	nearest := servers[0]

	// Server URLs point at the upload endpoint; the sibling download
	// asset is the conventional large random image.
	u := strings.Replace(nearest.URL, "upload.php", "random4000x4000.jpg", 1)
	if u == "" {
		return "", fmt.Errorf("server %s has no URL", nearest.ID)
	}
	return u, nil
}
