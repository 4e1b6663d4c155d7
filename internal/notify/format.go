package notify

import (
	"fmt"

	"pewprobe/pkg/probe"
)

// FormatResult renders a completed probe for chat delivery.
func FormatResult(r *probe.Result) string {
	name := r.Target
	if name == "" {
		name = r.URL
	}
	if r.DownloadedBytes == 0 {
		return fmt.Sprintf(
			"⚠️ Throughput Probe\n"+
				"━━━━━━━━━━━━━━━━━━━━\n"+
				"🎯 Target: %s\n"+
				"Nothing was downloaded (%d ms)",
			name,
			r.ElapsedMS,
		)
	}
	return fmt.Sprintf(
		"🚀 Throughput Probe\n"+
			"━━━━━━━━━━━━━━━━━━━━\n"+
			"🎯 Target: %s\n"+
			"⬇️  Peak: %.2f MB/s\n"+
			"📦 Downloaded: %.2f MB\n"+
			"⏱️  Elapsed: %.1fs\n"+
			"🕐 Time: %s",
		name,
		r.MaxRateMBps,
		r.DownloadedMB(),
		float64(r.ElapsedMS)/1000,
		r.Timestamp.Format("2006-01-02 15:04:05"),
	)
}
