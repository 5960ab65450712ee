package model

type Staff struct {
	ID         string
	BusinessID string
	Name       string
	IsActive   bool
}

type Service struct {
	ID               string
	BusinessID       string
	Name             string
	BaseDurationMins int
	BufferMins       int
	BasePrice        string
	IsActive         bool
}

// TotalDuration is the calendar footprint of one appointment: service time
// plus cleanup/travel buffer.
func (s Service) TotalDuration() int {
	return s.BaseDurationMins + s.BufferMins
}
