package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/audit"
	"github.com/withObsrvr/biochar-datalogger/internal/checkpoint"
	"github.com/withObsrvr/biochar-datalogger/internal/export"
	"github.com/withObsrvr/biochar-datalogger/internal/metadata"
)

// publish writes every archive (and parquet export) of the year as one
// all-or-nothing batch.
func (p *Pipeline) publish(ctx context.Context, res *Result) error {
	objects := make([]archive.Object, 0, 2*len(res.Outputs))
	for _, out := range res.Outputs {
		objects = append(objects, archive.Object{
			Key:      out.Name.FileName(),
			Data:     out.Data,
			Checksum: out.Checksum,
		})
		if out.Parquet != nil {
			objects = append(objects, archive.NewObject(export.ParquetKey(out.Name), out.Parquet))
		}
	}
	return p.writer.Publish(ctx, objects)
}

// record updates the checkpoint, catalog, audit log and metrics after a
// successful publish. Failures here are logged; the archives are already
// in place.
//
// The order matters: the audit event references archives that must exist,
// and the checkpoint is written last so a crash before it only causes the
// year to be rebuilt.
func (p *Pipeline) record(ctx context.Context, res *Result, log *slog.Logger) {
	year := fmt.Sprint(res.Year)
	now := time.Now().UTC()

	cp := &checkpoint.Checkpoint{
		Year:      res.Year,
		EndDate:   res.EndDate,
		RunID:     res.RunID,
		Rows:      res.Rows,
		UpdatedAt: now,
	}
	events := make(map[string]audit.ArchiveInfo, len(res.Outputs))

	for _, out := range res.Outputs {
		g := string(out.Granularity())
		key := out.Name.FileName()
		rows := int64(out.Table.Len())
		size := int64(len(out.Data))

		p.opts.Metrics.ArchiveRows.WithLabelValues(year, g).Set(float64(rows))
		p.opts.Metrics.ArchiveBytes.WithLabelValues(year, g).Set(float64(size))

		rec := metadata.NewArchiveRecord(res.Year, res.EndDate, g, key, p.store.URI(key), out.Checksum, rows, size)
		rec.ProducerVersion = ProducerName + "@" + Version
		rec.RunID = res.RunID
		if err := p.opts.Catalog.RecordArchive(ctx, rec); err != nil {
			p.opts.Metrics.MetadataErrors.Inc()
			log.Warn("failed to record archive", "key", key, "error", err)
		}

		events[g] = audit.ArchiveInfo{Key: key, Checksum: out.Checksum, RowCount: rows, ByteSize: size}
		cp.Archives = append(cp.Archives, checkpoint.ArchiveInfo{
			Key:         key,
			Granularity: g,
			Rows:        int(rows),
			Bytes:       size,
			Checksum:    out.Checksum,
		})
	}

	if err := p.opts.Audit.EmitRun(ctx, audit.RunEvent{
		Timestamp: now,
		Run:       audit.RunInfo{Year: res.Year, EndDate: res.EndDate, RunID: res.RunID},
		Archives:  events,
		Producer:  audit.ProducerInfo{Name: ProducerName, Version: Version},
	}); err != nil {
		p.opts.Metrics.AuditErrors.Inc()
		log.Warn("failed to emit audit event", "error", err)
	}

	if err := p.opts.Checkpoints.Save(ctx, cp); err != nil {
		log.Warn("failed to save checkpoint", "error", err)
	}
}
