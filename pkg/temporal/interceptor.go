package temporal

import (
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const (
	// restoreSetting marks the update issued by History.Restore.
	restoreSetting = "temporal:restore"
	// pendingKey carries a post-update archive from before_update to after_update.
	pendingKey = "temporal:pending"
)

type pending struct {
	history  *History
	event    Event
	decision decision
	ids      [][]interface{}
}

func (p *Plugin) registerInterceptor(db *gorm.DB) error {
	if err := db.Callback().Create().
		After("gorm:after_create").Before("gorm:commit_or_rollback_transaction").
		Register("temporal:after_create", p.afterCreate); err != nil {
		return err
	}
	if err := db.Callback().Update().
		After("gorm:before_update").Before("gorm:update").
		Register("temporal:before_update", p.beforeUpdate); err != nil {
		return err
	}
	if err := db.Callback().Update().
		After("gorm:after_update").Before("gorm:commit_or_rollback_transaction").
		Register("temporal:after_update", p.afterUpdate); err != nil {
		return err
	}
	return db.Callback().Delete().
		After("gorm:before_delete").Before("gorm:delete").
		Register("temporal:before_delete", p.beforeDelete)
}

// tracked returns the history of the statement's model, nil for untracked
// models and failed statements. Statements without a model, such as
// db.Table("users").Where(...).Update(...), resolve by table name.
func (p *Plugin) tracked(db *gorm.DB) *History {
	if db.Error != nil {
		return nil
	}
	stmt := db.Statement
	p.mu.RLock()
	defer p.mu.RUnlock()
	if stmt.Schema != nil {
		return p.byModel[stmt.Schema.ModelType]
	}
	if stmt.Table == "" {
		return nil
	}
	return p.byEntityTable[stmt.Table]
}

func (p *Plugin) afterCreate(db *gorm.DB) {
	h := p.tracked(db)
	if h == nil {
		return
	}
	d := h.policy.decide(EventCreate)
	if d.snapshot != snapshotAfter {
		return
	}
	// RowsAffected is zero when an ON CONFLICT DO NOTHING skipped the insert.
	if db.RowsAffected == 0 {
		return
	}
	if err := h.archive(db, EventCreate, d, asRows(db.Statement.ReflectValue)); err != nil {
		_ = db.AddError(err)
	}
}

func (p *Plugin) beforeUpdate(db *gorm.DB) {
	h := p.tracked(db)
	if h == nil {
		return
	}

	ids := h.identity(db)
	event := EventBulkUpdate
	if restore, ok := db.Get(restoreSetting); ok && restore == true {
		event = EventRestore
	} else if len(ids) > 0 {
		event = EventUpdate
	}

	d := h.policy.decide(event)
	switch d.snapshot {
	case snapshotBefore:
		rows, err := h.matchedRows(db, ids)
		if err == nil {
			err = h.archive(db, event, d, rows)
		}
		if err != nil {
			_ = db.AddError(err)
		}
	case snapshotAfter:
		if len(ids) > 0 {
			db.InstanceSet(pendingKey, &pending{history: h, event: event, decision: d, ids: ids})
		}
	}
}

func (p *Plugin) afterUpdate(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	v, ok := db.InstanceGet(pendingKey)
	if !ok {
		return
	}
	pend := v.(*pending)
	if db.RowsAffected == 0 {
		return
	}
	h := pend.history
	rows, err := h.reload(db, pend.ids)
	if err == nil {
		err = h.archive(db, pend.event, pend.decision, rows)
	}
	if err != nil {
		_ = db.AddError(err)
	}
}

func (p *Plugin) beforeDelete(db *gorm.DB) {
	h := p.tracked(db)
	if h == nil {
		return
	}

	ids := h.identity(db)
	event := EventBulkDestroy
	if len(ids) > 0 {
		event = EventDestroy
	}

	d := h.policy.decide(event)
	if d.snapshot != snapshotBefore {
		return
	}
	rows, err := h.matchedRows(db, ids)
	if err == nil {
		err = h.archive(db, event, d, rows)
	}
	if err != nil {
		_ = db.AddError(err)
	}
}

// identity collects the primary key values of the model value(s) a statement
// operates on. Values with a zero key are skipped; statements without a
// tracked model value have none.
func (h *History) identity(db *gorm.DB) [][]interface{} {
	stmt := db.Statement
	if stmt.Schema == nil || stmt.Schema.ModelType != h.entity.ModelType {
		return nil
	}
	rv := stmt.ReflectValue
	if !rv.IsValid() {
		return nil
	}
	kind := reflect.Indirect(rv).Kind()
	if kind != reflect.Struct && kind != reflect.Slice && kind != reflect.Array {
		return nil
	}
	_, values := schema.GetIdentityFieldValuesMap(stmt.Context, reflect.Indirect(rv), h.entity.PrimaryFields)
	return values
}

// read opens a query on the model table that shares the statement's
// connection and transaction but none of its clauses.
func (h *History) read(db *gorm.DB) *gorm.DB {
	stmt := db.Statement
	tx := db.Session(&gorm.Session{NewDB: true, SkipHooks: true, Context: stmt.Context})
	if stmt.Table != "" {
		tx = tx.Table(stmt.Table)
	}
	if stmt.Unscoped {
		tx = tx.Unscoped()
	}
	return tx
}

// matchedRows loads the rows a pending update or delete is about to touch.
func (h *History) matchedRows(db *gorm.DB, ids [][]interface{}) ([]reflect.Value, error) {
	stmt := db.Statement

	var exprs []clause.Expression
	if c, ok := stmt.Clauses["WHERE"]; ok {
		if where, ok := c.Expression.(clause.Where); ok {
			exprs = append(exprs, where.Exprs...)
		}
	}
	if len(ids) > 0 {
		exprs = append(exprs, h.primaryKeyIn(stmt, ids))
	}
	if len(exprs) == 0 && !db.AllowGlobalUpdate {
		// gorm refuses the statement itself with ErrMissingWhereClause
		return nil, nil
	}

	return h.load(h.read(db), exprs)
}

// reload loads rows by primary key after an update, soft-deleted ones included.
func (h *History) reload(db *gorm.DB, ids [][]interface{}) ([]reflect.Value, error) {
	return h.load(h.read(db).Unscoped(), []clause.Expression{h.primaryKeyIn(db.Statement, ids)})
}

func (h *History) load(tx *gorm.DB, exprs []clause.Expression) ([]reflect.Value, error) {
	rows := reflect.New(reflect.SliceOf(h.entity.ModelType))
	if len(exprs) > 0 {
		tx = tx.Clauses(clause.Where{Exprs: exprs})
	}
	if err := tx.Find(rows.Interface()).Error; err != nil {
		return nil, err
	}
	return asRows(rows), nil
}

func (h *History) primaryKeyIn(stmt *gorm.Statement, ids [][]interface{}) clause.Expression {
	column, queryValues := schema.ToQueryValues(stmt.Table, h.entity.PrimaryFieldDBNames, ids)
	return clause.IN{Column: column, Values: queryValues}
}
