package database

// ReplaceStats counts what replacing the row set of one period did
type ReplaceStats struct {
	Created int // keys that had no row
	Updated int // keys whose row was overwritten
	Removed int // rows of the period whose key was not recomputed
}
