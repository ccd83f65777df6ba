package temporal

import (
	"fmt"

	fllog "github.com/flightctl/temporal/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (p *Plugin) registerGuard(db *gorm.DB) error {
	if err := db.Callback().Create().
		Before("gorm:before_create").
		Register("temporal:guard_upsert", p.guardUpsert); err != nil {
		return err
	}
	if err := db.Callback().Update().
		Before("gorm:before_update").
		Register("temporal:guard_update", p.guard("update")); err != nil {
		return err
	}
	return db.Callback().Delete().
		Before("gorm:before_delete").
		Register("temporal:guard_delete", p.guard("delete"))
}

// guard fails updates and deletes aimed at a history table, whether the
// statement names it through the history struct or through Table.
func (p *Plugin) guard(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil {
			return
		}
		h := p.historyOf(db.Statement)
		if h == nil {
			return
		}
		h.reject(db, operation)
	}
}

// guardUpsert fails inserts into a history table that would update existing
// rows on conflict. Plain inserts and ON CONFLICT DO NOTHING pass.
func (p *Plugin) guardUpsert(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	c, ok := db.Statement.Clauses["ON CONFLICT"]
	if !ok {
		return
	}
	onConflict, ok := c.Expression.(clause.OnConflict)
	if !ok || (!onConflict.UpdateAll && len(onConflict.DoUpdates) == 0) {
		return
	}
	if h := p.historyOf(db.Statement); h != nil {
		h.reject(db, "upsert")
	}
}

func (h *History) reject(db *gorm.DB, operation string) {
	_ = db.AddError(fmt.Errorf("%w: %s on %s", ErrHistoryReadOnly, operation, h.Table()))
	h.metrics.writeRejected(h.Name(), operation)
	fllog.WithReqIDFromCtx(db.Statement.Context, fllog.WithHistory(h.log, h.Name())).
		Warnf("rejected %s on history table %s", operation, h.Table())
}

func (p *Plugin) historyOf(stmt *gorm.Statement) *History {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if stmt.Schema != nil {
		if h, ok := p.byHistory[stmt.Schema.ModelType]; ok {
			return h
		}
	}
	return p.byTable[stmt.Table]
}
