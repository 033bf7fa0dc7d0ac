package handlers

import (
	"errors"
	"time"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/helpers"
)

// ErrMissingID is returned when a payload carries no upstream id
var ErrMissingID = errors.New("record missing id")

// now is swapped in tests
var now = func() time.Time { return time.Now().UTC() }

// recordID reads the upstream id, falling back to old_record for DELETE
// notifications that only carry the prior row.
func recordID(record, oldRecord models.Payload, keys ...string) string {
	if id := helpers.String(record, keys...); id != "" {
		return id
	}
	return helpers.String(oldRecord, keys...)
}

func retireTime() *time.Time {
	t := now()
	return &t
}
