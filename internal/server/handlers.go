package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/dataset"
	"github.com/withObsrvr/biochar-datalogger/internal/export"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

const requestTimeout = 30 * time.Second

func (s *Server) handleYears(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	years, err := s.cache.Years(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	if years == nil {
		years = []int{}
	}
	c.JSON(http.StatusOK, gin.H{"years": years})
}

func (s *Server) handleEndDate(c *gin.Context) {
	year, ok := parseYear(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	end, err := s.cache.EndDate(ctx, year)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"year": year, "end_date": end})
}

func (s *Server) handleDataset(c *gin.Context) {
	t, year, g, ok := s.loadTable(c)
	if !ok {
		return
	}

	index := make([]string, t.Len())
	for i := range index {
		index[i] = s.indexValue(t, i, g)
	}
	columns := make(map[string][]*float64, t.NumColumns())
	for _, name := range t.Columns() {
		values, _ := t.Column(name)
		columns[name] = nullable(values)
	}

	c.JSON(http.StatusOK, gin.H{
		"year":        year,
		"granularity": g,
		"index":       index,
		"columns":     columns,
		"meta": gin.H{
			"rows":    t.Len(),
			"columns": t.Columns(),
		},
	})
}

func (s *Server) handleCSV(c *gin.Context) {
	t, year, g, ok := s.loadTable(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.DownloadName(year, g, "csv")))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := export.CSV(c.Writer, t, g, s.loc); err != nil {
		s.log.Warn("csv download failed", "year", year, "granularity", g, "error", err)
	}
}

func (s *Server) handleParquet(c *gin.Context) {
	t, year, g, ok := s.loadTable(c)
	if !ok {
		return
	}
	data, err := export.Parquet(t, g, s.loc)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.DownloadName(year, g, "parquet")))
	c.Data(http.StatusOK, "application/vnd.apache.parquet", data)
}

func (s *Server) handleSummary(c *gin.Context) {
	year, ok := parseYear(c)
	if !ok {
		return
	}
	refresh := false
	if v := c.Query("refresh"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refresh parameter"})
			return
		}
		refresh = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	out, err := s.summaries.LoadOrBuild(ctx, year, refresh)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// loadTable resolves the year and granularity parameters and applies the
// optional ?columns= filter. It writes the error response itself.
func (s *Server) loadTable(c *gin.Context) (*table.Table, int, aggregate.Granularity, bool) {
	year, ok := parseYear(c)
	if !ok {
		return nil, 0, "", false
	}
	g, err := aggregate.ParseGranularity(c.Param("granularity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, 0, "", false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	t, err := s.cache.Get(ctx, year, g)
	if err != nil {
		s.fail(c, err)
		return nil, 0, "", false
	}

	if raw := c.Query("columns"); raw != "" {
		var names []string
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		t, err = t.Select(names)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, 0, "", false
		}
	}
	return t, year, g, true
}

func (s *Server) indexValue(t *table.Table, i int, g aggregate.Granularity) string {
	if t.Labeled() {
		return t.Labels()[i]
	}
	return t.Times()[i].In(s.loc).Format(g.TimeLayout())
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	default:
		s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseYear(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 1900 || year > 9999 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return 0, false
	}
	return year, true
}

// nullable converts nulls to nil so the JSON encoder writes null.
func nullable(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		if !table.IsNull(values[i]) {
			out[i] = &values[i]
		}
	}
	return out
}
