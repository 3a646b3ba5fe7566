package export

import (
	"fmt"
	"io"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// CSV writes t in the same layout as the archive entry.
func CSV(w io.Writer, t *table.Table, g aggregate.Granularity, loc *time.Location) error {
	return table.WriteCSV(w, t, table.CSVOptions{
		Labeled:    g.Labeled(),
		TimeLayout: g.TimeLayout(),
		Location:   loc,
	})
}

// DownloadName is the attachment file name for a downloaded table.
func DownloadName(year int, g aggregate.Granularity, ext string) string {
	return fmt.Sprintf("dataloggerData_%d_%s.%s", year, g, ext)
}
