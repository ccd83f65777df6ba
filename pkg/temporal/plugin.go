package temporal

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	fllog "github.com/flightctl/temporal/pkg/log"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const PluginName = "temporal"

// Plugin is the gorm plugin that owns the registry of tracked models and
// their histories. Install it with db.Use, then Attach models to it.
type Plugin struct {
	log     logrus.FieldLogger
	metrics *Metrics

	mu        sync.RWMutex
	byName    map[string]*History
	byModel   map[reflect.Type]*History
	byHistory map[reflect.Type]*History
	byTable   map[string]*History

	// byEntityTable resolves statements issued through Table without a model.
	byEntityTable map[string]*History
}

type Option func(*Plugin)

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Plugin) {
		p.log = log
	}
}

// WithMetrics counts history writes into m. The caller registers m.
func WithMetrics(m *Metrics) Option {
	return func(p *Plugin) {
		p.metrics = m
	}
}

func New(opts ...Option) *Plugin {
	p := &Plugin{
		byName:    map[string]*History{},
		byModel:   map[reflect.Type]*History{},
		byHistory: map[reflect.Type]*History{},
		byTable:   map[string]*History{},

		byEntityTable: map[string]*History{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = fllog.InitLogs("info")
	}
	return p
}

func (p *Plugin) Name() string {
	return PluginName
}

func (p *Plugin) Initialize(db *gorm.DB) error {
	if err := p.registerGuard(db); err != nil {
		return fmt.Errorf("registering read-only guard: %w", err)
	}
	if err := p.registerInterceptor(db); err != nil {
		return fmt.Errorf("registering lifecycle callbacks: %w", err)
	}
	return nil
}

// Attach derives the history of model, registers it and starts archiving the
// model's changes. model is a pointer to a zero value of the model struct.
// The history table is not created; see History.AutoMigrate.
func (p *Plugin) Attach(db *gorm.DB, model any, cfg Config) (*History, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedModel, err)
	}
	entity := stmt.Schema

	derived, err := deriveSchema(entity, cfg, db.NamingStrategy)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byModel[entity.ModelType]; ok {
		return nil, fmt.Errorf("%w: %s as %s", ErrAlreadyTracked, entity.Name, existing.Name())
	}
	if _, ok := p.byName[derived.name]; ok {
		return nil, fmt.Errorf("%w: %s is already registered", ErrNameConflict, derived.name)
	}
	if _, ok := p.byTable[derived.table]; ok {
		return nil, fmt.Errorf("%w: table %s is already a history table", ErrNameConflict, derived.table)
	}
	if _, ok := p.byTable[entity.Table]; ok {
		return nil, fmt.Errorf("%w: %s is stored in history table %s", ErrNameConflict, entity.Name, entity.Table)
	}
	for _, tracked := range p.byModel {
		if tracked.entity.Table == derived.table {
			return nil, fmt.Errorf("%w: table %s belongs to %s", ErrNameConflict, derived.table, tracked.EntityName())
		}
	}

	h := &History{
		cfg:     cfg,
		entity:  entity,
		schema:  derived,
		policy:  policyFor(cfg),
		db:      db.Session(&gorm.Session{NewDB: true}),
		log:     fllog.WithHistory(p.log, derived.name),
		metrics: p.metrics,
	}
	p.byName[derived.name] = h
	p.byModel[entity.ModelType] = h
	p.byHistory[derived.modelType] = h
	p.byTable[derived.table] = h
	if _, ok := p.byEntityTable[entity.Table]; !ok {
		p.byEntityTable[entity.Table] = h
	}

	h.log.Infof("tracking %s in %s (%s mode)", entity.Name, derived.table, cfg.Mode())
	return h, nil
}

// History returns a registered history by name.
func (p *Plugin) History(name string) (*History, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.byName[name]
	return h, ok
}

// Histories returns the registered history names in order.
func (p *Plugin) Histories() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := lo.Keys(p.byName)
	sort.Strings(names)
	return names
}

// AutoMigrate creates or updates every registered history table.
func (p *Plugin) AutoMigrate(ctx context.Context) error {
	for _, name := range p.Histories() {
		h, _ := p.History(name)
		if err := h.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("migrating %s: %w", name, err)
		}
	}
	return nil
}

// Installed returns the temporal plugin installed on db.
func Installed(db *gorm.DB) (*Plugin, error) {
	if pl, ok := db.Config.Plugins[PluginName]; ok {
		if p, ok := pl.(*Plugin); ok {
			return p, nil
		}
	}
	return nil, ErrPluginNotFound
}

// Attach attaches model to the temporal plugin of db, installing a plugin with
// default options first if db has none.
func Attach(db *gorm.DB, model any, cfg Config) (*History, error) {
	p, err := Installed(db)
	if errors.Is(err, ErrPluginNotFound) {
		p = New()
		if err = db.Use(p); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return p.Attach(db, model, cfg)
}
