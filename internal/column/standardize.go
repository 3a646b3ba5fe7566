package column

import (
	"log/slog"
	"strings"

	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// BatteryColumn is the raw battery-voltage column name emitted by the loggers.
const BatteryColumn = "BattV_Min"

// Standardize renames the value columns of one logger's table into the
// canonical grammar. Raw columns of the form {Q}_{depth}_Avg become raw keys
// for the logger's strip and position; the battery column becomes a plain
// key. Anything else is kept as-is and reported with a warning.
func Standardize(t *table.Table, logger string, log *slog.Logger) (*table.Table, error) {
	strip, position, err := SplitLogger(logger)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]string, t.NumColumns())
	for _, name := range t.Columns() {
		key, ok := standardKey(name, strip, position)
		if !ok {
			log.Warn("unrecognized column left unchanged", "logger", logger, "column", name)
			continue
		}
		mapping[name] = key.String()
	}

	return t.Rename(mapping)
}

func standardKey(name, strip, position string) (Key, bool) {
	if name == BatteryColumn {
		return Plain("BattV", strip, position), true
	}

	parts := strings.Split(name, "_")
	if len(parts) != 3 || parts[2] != "Avg" || parts[0] == "" || !isDepth(parts[1]) {
		return Key{}, false
	}
	return Raw(parts[0], parts[1], strip, position), true
}
