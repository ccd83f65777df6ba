package temporal

import (
	"context"
	"database/sql"
	"fmt"
	"go/token"
	"reflect"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/stoewer/go-strcase"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	deletedAtType = reflect.TypeOf(gorm.DeletedAt{})
	nullTimeType  = reflect.TypeOf(sql.NullTime{})
	timeType      = reflect.TypeOf(time.Time{})
	hidType       = reflect.TypeOf(uint64(0))
)

// Tag settings that shape a column's storage type. Everything else gorm
// understands is a constraint or a behavior and is dropped from history columns.
var storageTagSettings = []string{"TYPE", "SIZE", "PRECISION", "SCALE", "SERIALIZER"}

// column maps a model field to its copy in the history row.
type column struct {
	source *schema.Field
	index  int
	dbName string
	typ    reflect.Type
}

// derivedSchema is the shadow of a tracked model, computed once per Attach.
type derivedSchema struct {
	name      string
	table     string
	modelType reflect.Type
	columns   []column
	idIndex   int
	dateIndex int

	// marker is the copied gorm.DeletedAt column, nil when the model does not soft delete.
	marker *column
	// lastModified is the model's auto-update timestamp, nil when it has none.
	lastModified *schema.Field
}

func deriveSchema(entity *schema.Schema, cfg Config, namer schema.Namer) (*derivedSchema, error) {
	if len(entity.PrimaryFields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, entity.Name)
	}

	d := &derivedSchema{
		name: cfg.HistoryName(entity.Name),
	}
	d.table = namer.TableName(d.name)
	if d.name == entity.Name || d.table == entity.Table {
		return nil, fmt.Errorf("%w: %s would be stored as %q", ErrNameConflict, d.name, d.table)
	}
	for _, col := range []string{cfg.IDColumn, cfg.DateColumn} {
		if _, ok := entity.FieldsByDBName[col]; ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrColumnConflict, entity.Name, col)
		}
	}

	taken := map[string]bool{}
	fields := make([]reflect.StructField, 0, len(entity.DBNames)+2)
	add := func(goName string, typ reflect.Type, settings ...string) int {
		fields = append(fields, reflect.StructField{
			Name: uniqueGoName(goName, taken),
			Type: typ,
			Tag:  reflect.StructTag(fmt.Sprintf(`gorm:"%s"`, strings.Join(settings, ";"))),
		})
		return len(fields) - 1
	}

	d.idIndex = add("HistoryID", hidType, "column:"+cfg.IDColumn, "primaryKey", "autoIncrement")

	for _, dbName := range entity.DBNames {
		field := entity.FieldsByDBName[dbName]
		typ := field.FieldType
		if typ == deletedAtType {
			typ = nullTimeType
		}
		col := column{source: field, dbName: dbName, typ: typ}
		col.index = add(goFieldName(dbName), typ, columnSettings(field)...)
		d.columns = append(d.columns, col)

		if field.AutoUpdateTime > 0 && d.lastModified == nil {
			d.lastModified = field
		}
	}
	if marker, ok := lo.Find(d.columns, func(c column) bool { return c.source.FieldType == deletedAtType }); ok {
		d.marker = &marker
	}

	d.dateIndex = add("HistoryArchivedAt", timeType, "column:"+cfg.DateColumn, "autoCreateTime:false", "autoUpdateTime:false")

	d.modelType = reflect.StructOf(fields)
	return d, nil
}

func columnSettings(field *schema.Field) []string {
	settings := []string{"column:" + field.DBName}
	for _, key := range storageTagSettings {
		if v, ok := field.TagSettings[key]; ok && v != "" && v != key {
			settings = append(settings, strings.ToLower(key)+":"+v)
		}
	}
	return append(settings, "autoCreateTime:false", "autoUpdateTime:false")
}

func goFieldName(dbName string) string {
	name := strcase.UpperCamelCase(dbName)
	if name == "" {
		return "Column"
	}
	if !token.IsExported(name) {
		name = "X" + name
	}
	if !token.IsIdentifier(name) {
		return "Column"
	}
	return name
}

func uniqueGoName(name string, taken map[string]bool) string {
	candidate := name
	for i := 2; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s%d", name, i)
	}
	taken[candidate] = true
	return candidate
}

func (d *derivedSchema) columnNames() []string {
	return lo.Map(d.columns, func(c column, _ int) string { return c.dbName })
}

// snapshot copies a model row into a new history row. The model row is only read.
func (d *derivedSchema) snapshot(row reflect.Value) reflect.Value {
	rec := reflect.New(d.modelType)
	elem := rec.Elem()
	for _, col := range d.columns {
		rv, ok := fieldValue(row, col.source)
		if !ok {
			continue
		}
		if rv.Type() != col.typ {
			rv = rv.Convert(col.typ)
		}
		elem.Field(col.index).Set(rv)
	}
	return rec
}

// fieldValue reads a field without allocating nil embedded pointers. Unlike
// Field.ValueOf it returns the raw value of fields that have a serializer.
func fieldValue(row reflect.Value, field *schema.Field) (reflect.Value, bool) {
	v := reflect.Indirect(row)
	for _, idx := range field.StructField.Index {
		if idx >= 0 {
			v = v.Field(idx)
			continue
		}
		v = v.Field(-idx - 1)
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, true
}

// entity builds a fresh model value from a history row.
func (d *derivedSchema) entity(ctx context.Context, modelType reflect.Type, rec reflect.Value) reflect.Value {
	ent := reflect.New(modelType)
	for _, col := range d.columns {
		dst := col.source.ReflectValueOf(ctx, ent.Elem())
		src := rec.Field(col.index)
		if src.Type() != dst.Type() {
			src = src.Convert(dst.Type())
		}
		dst.Set(src)
	}
	return ent
}

func (d *derivedSchema) markDeleted(rec reflect.Value, at time.Time) {
	if d.marker == nil {
		return
	}
	rec.Elem().Field(d.marker.index).Set(reflect.ValueOf(sql.NullTime{Time: at, Valid: true}))
}

func (d *derivedSchema) setArchivedAt(rec reflect.Value, at time.Time) {
	rec.Elem().Field(d.dateIndex).Set(reflect.ValueOf(at))
}

func (d *derivedSchema) hid(rec reflect.Value) uint64 {
	return reflect.Indirect(rec).Field(d.idIndex).Uint()
}

func (d *derivedSchema) archivedAt(rec reflect.Value) time.Time {
	return reflect.Indirect(rec).Field(d.dateIndex).Interface().(time.Time)
}

// lastModifiedOf reads the model's auto-update timestamp, zero when absent.
func (d *derivedSchema) lastModifiedOf(row reflect.Value) time.Time {
	if d.lastModified == nil {
		return time.Time{}
	}
	rv, ok := fieldValue(row, d.lastModified)
	if !ok || rv.IsZero() {
		return time.Time{}
	}
	rv = reflect.Indirect(rv)
	if !rv.IsValid() {
		return time.Time{}
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return t
	}

	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = int64(rv.Uint())
	default:
		return time.Time{}
	}
	switch d.lastModified.AutoUpdateTime {
	case schema.UnixNanosecond:
		return time.Unix(0, n)
	case schema.UnixMillisecond:
		return time.UnixMilli(n)
	default:
		return time.Unix(n, 0)
	}
}
