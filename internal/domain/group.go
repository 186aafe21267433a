package domain

import "time"

// Group is the organizational container for jobs and the unit of cascade
// deletion.
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
