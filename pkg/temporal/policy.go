package temporal

import "time"

// Event is a lifecycle event of a tracked model.
type Event int

const (
	EventCreate Event = iota
	EventUpdate
	EventDestroy
	EventRestore
	EventBulkUpdate
	EventBulkDestroy
)

func (e Event) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventDestroy:
		return "destroy"
	case EventRestore:
		return "restore"
	case EventBulkUpdate:
		return "bulk-update"
	case EventBulkDestroy:
		return "bulk-destroy"
	default:
		return "unknown"
	}
}

type snapshot int

const (
	snapshotNone snapshot = iota
	// the row as it was before the statement touched it
	snapshotBefore
	// the row as the statement left it
	snapshotAfter
)

type decision struct {
	snapshot    snapshot
	markDeleted bool
}

// policy decides which version of a row an event archives.
type policy interface {
	decide(Event) decision
	archivedAt(d decision, now time.Time, lastModified time.Time) time.Time
}

func policyFor(cfg Config) policy {
	if cfg.Full {
		return fullPolicy{}
	}
	return defaultPolicy{}
}

// defaultPolicy keeps the version a change is about to replace.
type defaultPolicy struct{}

func (defaultPolicy) decide(e Event) decision {
	switch e {
	case EventUpdate, EventDestroy, EventBulkUpdate, EventBulkDestroy:
		return decision{snapshot: snapshotBefore}
	default:
		return decision{}
	}
}

func (defaultPolicy) archivedAt(_ decision, now time.Time, _ time.Time) time.Time {
	return now
}

// fullPolicy keeps every version a row goes through.
type fullPolicy struct{}

func (fullPolicy) decide(e Event) decision {
	switch e {
	case EventCreate, EventUpdate, EventRestore:
		return decision{snapshot: snapshotAfter}
	case EventDestroy, EventBulkDestroy:
		return decision{snapshot: snapshotBefore, markDeleted: true}
	case EventBulkUpdate:
		return decision{snapshot: snapshotBefore}
	default:
		return decision{}
	}
}

func (fullPolicy) archivedAt(d decision, now time.Time, lastModified time.Time) time.Time {
	if d.markDeleted || lastModified.IsZero() {
		return now
	}
	return lastModified
}
