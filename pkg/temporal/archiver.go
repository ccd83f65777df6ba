package temporal

import (
	"fmt"
	"reflect"
	"time"

	"github.com/flightctl/temporal/internal/instrumentation/tracing"
	fllog "github.com/flightctl/temporal/pkg/log"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

// archive writes one history record per row through the statement's
// connection, so the records commit or roll back with the change itself.
// rows holds model values; they are not modified.
func (h *History) archive(db *gorm.DB, event Event, d decision, rows []reflect.Value) error {
	if d.snapshot == snapshotNone || len(rows) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(db.Statement.Context, tracing.TracerName, "archive",
		tracing.HistoryAttributes(h.schema.name, event.String(), len(rows)))
	defer span.End()

	start := time.Now()
	now := db.NowFunc()
	records := reflect.MakeSlice(reflect.SliceOf(h.schema.modelType), 0, len(rows))
	for _, row := range rows {
		rec := h.schema.snapshot(row)
		if d.markDeleted {
			h.schema.markDeleted(rec, now)
		}
		h.schema.setArchivedAt(rec, h.policy.archivedAt(d, now, h.schema.lastModifiedOf(row)))
		records = reflect.Append(records, rec.Elem())
	}

	ptr := reflect.New(records.Type())
	ptr.Elem().Set(records)
	// Context goes into the same Session call: WithContext would clone the
	// triggering statement back in.
	err := db.Session(&gorm.Session{NewDB: true, SkipHooks: true, Context: ctx}).
		Table(h.schema.table).
		Create(ptr.Interface()).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("archiving %s into %s: %w", event, h.schema.table, err)
	}

	h.metrics.recordWritten(h.schema.name, event, len(rows), time.Since(start))
	fllog.WithReqIDFromCtx(ctx, h.log).Debugf("archived %d %s record(s) on %s", len(rows), h.schema.name, event)
	return nil
}

// asRows flattens a statement's reflect value into addressable model values.
func asRows(rv reflect.Value) []reflect.Value {
	rv = reflect.Indirect(rv)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		rows := make([]reflect.Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			row := reflect.Indirect(rv.Index(i))
			if row.Kind() == reflect.Struct {
				rows = append(rows, row)
			}
		}
		return rows
	case reflect.Struct:
		return []reflect.Value{rv}
	default:
		return nil
	}
}
