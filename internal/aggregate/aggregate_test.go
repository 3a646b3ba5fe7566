package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

var denver = mustLoad("America/Denver")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, denver)
}

func defaultSeasons(t *testing.T) []Season {
	t.Helper()
	l, err := config.DefaultLayout()
	require.NoError(t, err)
	seasons, err := ParseSeasons(l.Seasons)
	require.NoError(t, err)
	return seasons
}

func TestHourlySumsPrecipAndAveragesTemperature(t *testing.T) {
	tbl := table.New([]time.Time{
		at(2024, 5, 1, 10, 0),
		at(2024, 5, 1, 10, 15),
		at(2024, 5, 1, 10, 30),
		at(2024, 5, 1, 10, 45),
	})
	require.NoError(t, tbl.AddColumn("precip_mm", []float64{0, 2, 0, 1}))
	require.NoError(t, tbl.AddColumn("T_1_raw_S1_T", []float64{10, 12, 14, 16}))

	l, err := config.DefaultLayout()
	require.NoError(t, err)
	out, err := HourlyOf(tbl, NewPlan(tbl, l))
	require.NoError(t, err)

	require.Equal(t, 1, out.Len())
	assert.True(t, out.Times()[0].Equal(at(2024, 5, 1, 10, 0)))
	precip, _ := out.Column("precip_mm")
	temp, _ := out.Column("T_1_raw_S1_T")
	assert.Equal(t, 3.0, precip[0])
	assert.Equal(t, 13.0, temp[0])
}

func TestBucketIgnoresNullsAndKeepsAllNullBucketsNull(t *testing.T) {
	tbl := table.New([]time.Time{
		at(2024, 5, 1, 10, 0),
		at(2024, 5, 1, 10, 15),
		at(2024, 5, 1, 11, 0),
	})
	require.NoError(t, tbl.AddColumn("precip_mm", []float64{table.Null(), 1.5, table.Null()}))
	require.NoError(t, tbl.AddColumn("EC_1_raw_S1_T", []float64{2, table.Null(), table.Null()}))

	plan := PlanOf(map[string]config.AggKind{"precip_mm": config.AggSum})
	out, err := HourlyOf(tbl, plan)
	require.NoError(t, err)

	require.Equal(t, 2, out.Len())
	precip, _ := out.Column("precip_mm")
	ec, _ := out.Column("EC_1_raw_S1_T")
	assert.Equal(t, 1.5, precip[0])
	assert.Equal(t, 2.0, ec[0])
	assert.True(t, table.IsNull(precip[1]))
	assert.True(t, table.IsNull(ec[1]))
}

func TestDailySkipsEmptyDays(t *testing.T) {
	tbl := table.New([]time.Time{
		at(2024, 3, 1, 23, 45),
		at(2024, 3, 4, 0, 0),
	})
	require.NoError(t, tbl.AddColumn("EC_1_raw_S1_T", []float64{1, 3}))

	out, err := DailyOf(tbl, PlanOf(nil))
	require.NoError(t, err)

	require.Equal(t, 2, out.Len(), "days without rows produce no output")
	assert.True(t, out.Times()[0].Equal(at(2024, 3, 1, 0, 0)))
	assert.True(t, out.Times()[1].Equal(at(2024, 3, 4, 0, 0)))
}

func TestMonthlyRestrictedToYear(t *testing.T) {
	tbl := table.New([]time.Time{
		at(2023, 12, 31, 12, 0),
		at(2024, 1, 1, 0, 0),
		at(2024, 1, 1, 12, 0),
		at(2024, 1, 2, 0, 0),
		at(2024, 2, 10, 0, 0),
	})
	require.NoError(t, tbl.AddColumn("precip_mm", []float64{5, 1, 1, 2, 4}))
	require.NoError(t, tbl.AddColumn("EC_1_raw_S1_T", []float64{100, 1, 3, 4, 8}))

	plan := PlanOf(map[string]config.AggKind{"precip_mm": config.AggSum})
	out, err := MonthlyOf(tbl, plan, 2024)
	require.NoError(t, err)

	require.Equal(t, 2, out.Len())
	assert.True(t, out.Times()[0].Equal(at(2024, 1, 1, 0, 0)))
	assert.True(t, out.Times()[1].Equal(at(2024, 2, 1, 0, 0)))

	precip, _ := out.Column("precip_mm")
	ec, _ := out.Column("EC_1_raw_S1_T")
	assert.Equal(t, []float64{4, 4}, precip)
	// mean of daily means: (2 + 4) / 2
	assert.Equal(t, 3.0, ec[0])
	assert.Equal(t, 8.0, ec[1])
}

func TestSeasonWrapsIntoPriorYear(t *testing.T) {
	seasons := defaultSeasons(t)

	name, ok := Assign(at(2023, 12, 15, 0, 0), 2024, seasons)
	require.True(t, ok)
	assert.Equal(t, "Q1_Winter", name)

	name, ok = Assign(at(2024, 1, 15, 0, 0), 2024, seasons)
	require.True(t, ok)
	assert.Equal(t, "Q1_Winter", name)

	name, ok = Assign(at(2024, 6, 1, 0, 0), 2024, seasons)
	require.True(t, ok)
	assert.Equal(t, "Q3_Peak_Harvest", name)

	_, ok = Assign(at(2024, 11, 15, 0, 0), 2024, seasons)
	assert.False(t, ok, "November belongs to the next collection year's winter")
}

func TestSeasonEndsWithFebruary(t *testing.T) {
	seasons := defaultSeasons(t)

	name, ok := Assign(at(2024, 2, 29, 12, 0), 2024, seasons)
	require.True(t, ok, "leap day is winter")
	assert.Equal(t, "Q1_Winter", name)

	name, ok = Assign(at(2024, 3, 1, 0, 0), 2024, seasons)
	require.True(t, ok)
	assert.Equal(t, "Q2_Early_Growing", name)

	// no leap day: the window still closes at the end of February
	name, ok = Assign(at(2025, 2, 28, 23, 45), 2025, seasons)
	require.True(t, ok)
	assert.Equal(t, "Q1_Winter", name)

	name, ok = Assign(at(2025, 3, 1, 0, 0), 2025, seasons)
	require.True(t, ok)
	assert.Equal(t, "Q2_Early_Growing", name)

	_, end := seasons[0].Bounds(2025, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestGSeasonOf(t *testing.T) {
	seasons := defaultSeasons(t)
	tbl := table.New([]time.Time{
		at(2023, 12, 15, 0, 0),
		at(2024, 1, 15, 0, 0),
		at(2024, 6, 1, 0, 0),
		at(2024, 11, 15, 0, 0),
	})
	require.NoError(t, tbl.AddColumn("precip_mm", []float64{1, 2, 5, 100}))

	plan := PlanOf(map[string]config.AggKind{"precip_mm": config.AggSum})
	out, err := GSeasonOf(tbl, plan, 2024, seasons)
	require.NoError(t, err)

	require.True(t, out.Labeled())
	assert.Equal(t, []string{"Q1_Winter", "Q3_Peak_Harvest"}, out.Labels())
	precip, _ := out.Column("precip_mm")
	assert.Equal(t, []float64{3, 5}, precip)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 1.2346, Round4(1.23456))
	assert.Equal(t, -0.0001, Round4(-0.00012))
	assert.True(t, table.IsNull(Round4(table.Null())))
}

func TestAllProducesEveryGranularity(t *testing.T) {
	tbl := table.New([]time.Time{
		at(2024, 1, 1, 0, 0),
		at(2024, 1, 1, 0, 15),
	})
	require.NoError(t, tbl.AddColumn("EC_1_raw_S1_T", []float64{1.00004, 2}))

	out, err := All(tbl, PlanOf(nil), 2024, defaultSeasons(t))
	require.NoError(t, err)
	for _, g := range Granularities() {
		require.Contains(t, out, g)
	}
	native, _ := out[Native].Column("EC_1_raw_S1_T")
	assert.Equal(t, []float64{1, 2}, native)
	assert.Equal(t, 1, out[Hourly].Len())
	assert.Equal(t, 1, out[GSeason].Len())
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("1hour")
	require.NoError(t, err)
	assert.Equal(t, Hourly, g)
	assert.True(t, GSeason.Labeled())
	assert.Equal(t, "2006-01", Monthly.TimeLayout())

	_, err = ParseGranularity("weekly")
	assert.Error(t, err)
}
