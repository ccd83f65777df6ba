package temporal

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// History is the insert-only, queryable store of archived versions of one
// tracked model. It is created by Attach and never reconfigured.
//
// Every method takes a nullable tx: pass the open transaction to read or act
// inside it, or nil to run against the database the model was attached on.
type History struct {
	cfg     Config
	entity  *schema.Schema
	schema  *derivedSchema
	policy  policy
	db      *gorm.DB
	log     logrus.FieldLogger
	metrics *Metrics
}

// Record is one archived version.
type Record struct {
	ID         uint64
	ArchivedAt time.Time
	// Entity is a pointer to a new value of the tracked model holding the
	// archived field values.
	Entity any

	raw any
}

// Raw returns the history row itself, a pointer to the derived struct.
func (r Record) Raw() any {
	return r.raw
}

func (h *History) Name() string {
	return h.schema.name
}

func (h *History) Table() string {
	return h.schema.table
}

func (h *History) EntityName() string {
	return h.entity.Name
}

func (h *History) Config() Config {
	return h.cfg
}

// Columns lists the archived model columns, without the id and date columns.
func (h *History) Columns() []string {
	return h.schema.columnNames()
}

// New returns a pointer to a zero history row.
func (h *History) New() any {
	return reflect.New(h.schema.modelType).Interface()
}

func (h *History) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = h.db
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return tx.Session(&gorm.Session{NewDB: true, Context: ctx})
}

// Query starts a read on the history table.
func (h *History) Query(ctx context.Context, tx *gorm.DB) *gorm.DB {
	return h.conn(ctx, tx).Table(h.schema.table).Model(h.New())
}

func (h *History) Count(ctx context.Context, tx *gorm.DB, conds ...any) (int64, error) {
	var count int64
	result := where(h.Query(ctx, tx), conds).Count(&count)
	return count, ErrorFromGormError(result.Error)
}

// Find returns the matching records in the order they were archived.
func (h *History) Find(ctx context.Context, tx *gorm.DB, conds ...any) ([]Record, error) {
	rows := reflect.New(reflect.SliceOf(h.schema.modelType))
	result := where(h.Query(ctx, tx), conds).
		Order(clause.OrderByColumn{Column: clause.Column{Name: h.cfg.IDColumn}}).
		Find(rows.Interface())
	if result.Error != nil {
		return nil, ErrorFromGormError(result.Error)
	}

	records := make([]Record, 0, rows.Elem().Len())
	for i := 0; i < rows.Elem().Len(); i++ {
		records = append(records, h.record(ctx, rows.Elem().Index(i).Addr()))
	}
	return records, nil
}

// First returns the oldest matching record.
func (h *History) First(ctx context.Context, tx *gorm.DB, conds ...any) (*Record, error) {
	row := reflect.New(h.schema.modelType)
	result := where(h.Query(ctx, tx), conds).
		Order(clause.OrderByColumn{Column: clause.Column{Name: h.cfg.IDColumn}}).
		Take(row.Interface())
	if result.Error != nil {
		return nil, ErrorFromGormError(result.Error)
	}
	record := h.record(ctx, row)
	return &record, nil
}

func (h *History) record(ctx context.Context, row reflect.Value) Record {
	return Record{
		ID:         h.schema.hid(row),
		ArchivedAt: h.schema.archivedAt(row),
		Entity:     h.schema.entity(ctx, h.entity.ModelType, row.Elem()).Interface(),
		raw:        row.Interface(),
	}
}

// AutoMigrate creates or updates the history table.
func (h *History) AutoMigrate(ctx context.Context) error {
	return h.conn(ctx, nil).Table(h.schema.table).AutoMigrate(h.New())
}

// Restore clears the deletion marker of a soft-deleted model value. entity must
// be a pointer to the tracked model with its primary key set.
func (h *History) Restore(ctx context.Context, tx *gorm.DB, entity any) error {
	if h.schema.marker == nil {
		return fmt.Errorf("%w: %s", ErrNotSoftDeletable, h.entity.Name)
	}
	if t := reflect.TypeOf(entity); t == nil || t.Kind() != reflect.Ptr || indirectType(t) != h.entity.ModelType {
		return fmt.Errorf("%w: expected *%s, got %T", ErrUnsupportedModel, h.entity.Name, entity)
	}

	result := h.conn(ctx, tx).
		Unscoped().
		Model(entity).
		Set(restoreSetting, true).
		Update(h.schema.marker.dbName, nil)
	return result.Error
}

func where(q *gorm.DB, conds []any) *gorm.DB {
	if len(conds) == 0 {
		return q
	}
	return q.Where(conds[0], conds[1:]...)
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	return t
}
