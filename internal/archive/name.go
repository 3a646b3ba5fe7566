// Package archive stores aggregated tables as single-entry zip archives
// whose file names carry the year, data end date and granularity.
package archive

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
)

var (
	ErrInvalidName = errors.New("invalid archive name")
	ErrNotFound    = errors.New("archive not found")
	ErrBadArchive  = errors.New("bad archive")
)

// DateLayout is the layout of the end date in archive names.
const DateLayout = "2006-01-02"

const namePrefix = "dataloggerData_"

var namePattern = regexp.MustCompile(`^dataloggerData_(\d{4})-01-01_(\d{4}-\d{2}-\d{2})_(15min|1hour|daily|monthly|gseason)\.zip$`)

// Name addresses one archive.
type Name struct {
	Year        int
	EndDate     string // YYYY-MM-DD of the last row in the combined table
	Granularity aggregate.Granularity
}

// NewName builds a name whose end date is the local calendar date of end.
func NewName(year int, end time.Time, g aggregate.Granularity) Name {
	return Name{Year: year, EndDate: end.Format(DateLayout), Granularity: g}
}

// Stem is the file name without extension.
func (n Name) Stem() string {
	return fmt.Sprintf("%s%04d-01-01_%s_%s", namePrefix, n.Year, n.EndDate, n.Granularity)
}

// FileName is the archive file name.
func (n Name) FileName() string { return n.Stem() + ".zip" }

// EntryName is the name of the CSV inside the archive.
func (n Name) EntryName() string { return n.Stem() + ".csv" }

func (n Name) String() string { return n.FileName() }

// ParseFileName is the inverse of FileName.
func ParseFileName(s string) (Name, error) {
	m := namePattern.FindStringSubmatch(s)
	if m == nil {
		return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	if _, err := time.Parse(DateLayout, m[2]); err != nil {
		return Name{}, fmt.Errorf("%w: %q: bad end date", ErrInvalidName, s)
	}
	year, _ := strconv.Atoi(m[1])
	return Name{Year: year, EndDate: m[2], Granularity: aggregate.Granularity(m[3])}, nil
}
