package downloader

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

func formatBytes(b int64) string {
	if b <= 0 {
		return "-"
	}
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

// FormatBytes renders a byte count for humans; non-positive counts render as "-".
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// FormatPercent renders Entry.Percent, with "-" for unknown sizes.
func FormatPercent(p int) string {
	if p < 0 {
		return "-"
	}
	return fmt.Sprintf("%d%%", p)
}

func logProgress(logger *logrus.Logger, entries []Entry) {
	for _, e := range entries {
		logger.WithFields(logrus.Fields{
			"task_id": e.ID,
			"file":    e.FileName,
		}).Infof("[%s][%s/%s][%s]",
			FormatPercent(e.Percent),
			formatBytes(e.Received),
			formatBytes(e.Total),
			e.CreatedAt.Format(time.DateTime),
		)
	}
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if total == 0 {
			if now.Sub(lastLog) < 500*time.Millisecond && done != 0 {
				return
			}
			lastLog = now
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}

		percent := float64(done) / float64(total) * 100
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}
