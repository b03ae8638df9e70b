package seed

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Progress tracks seeding progress.
type Progress struct {
	Phase      string
	BytesRead  int64
	BytesTotal int64
	Read       int64
	Created    int64
	Duplicates int64
	Invalid    int64
	StartTime  time.Time
	Error      error
}

// ProgressFunc is called periodically with progress updates.
type ProgressFunc func(Progress)

// progressReader wraps an io.Reader to track bytes read.
type progressReader struct {
	r    io.Reader
	read *atomic.Int64
}

func newProgressReader(r io.Reader, counter *atomic.Int64) *progressReader {
	return &progressReader{r: r, read: counter}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.read.Add(int64(n))
	return n, err
}

// FormatBytes formats bytes as human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration as human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// WriterProgressFunc returns a ProgressFunc printing to w.
func WriterProgressFunc(w io.Writer) ProgressFunc {
	return func(p Progress) {
		switch p.Phase {
		case "load":
			if p.BytesTotal > 0 {
				fmt.Fprintf(w, "\r[Seed] %s / %s, %d records (%d created)",
					FormatBytes(p.BytesRead), FormatBytes(p.BytesTotal), p.Read, p.Created)
			} else {
				fmt.Fprintf(w, "\r[Seed] %s, %d records (%d created)",
					FormatBytes(p.BytesRead), p.Read, p.Created)
			}
		case "done":
			fmt.Fprintf(w, "\n[Done] %d records: %d created, %d duplicates, %d invalid (%s)\n",
				p.Read, p.Created, p.Duplicates, p.Invalid, FormatDuration(time.Since(p.StartTime)))
		case "error":
			fmt.Fprintf(w, "\n[Error] %v\n", p.Error)
		}
	}
}
