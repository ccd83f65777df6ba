// Package temporal keeps history tables for gorm models.
//
// Attaching a model derives a shadow table holding every column of the model
// plus a surrogate key and an archival timestamp, and registers gorm callbacks
// that copy rows into it as the model is created, updated, deleted or
// restored. History rows are written on the connection of the statement that
// caused them, so they share its transaction. History tables are read-only
// through gorm: updates and deletes against them fail with ErrHistoryReadOnly.
//
//	db.Use(temporal.New(temporal.WithLogger(log)))
//	h, err := temporal.Attach(db, &Device{}, temporal.NewDefaultConfig())
//	...
//	err = h.AutoMigrate(ctx)
//	records, err := h.Find(ctx, nil, "id = ?", device.ID)
//
// In the default mode only the version a change replaces is archived. With
// Config.Full every version is archived: the created row, each updated row,
// restored rows, and deleted rows with their deletion marker set.
package temporal
