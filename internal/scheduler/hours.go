package scheduler

import "time"

// MarketHours gates the fast refresh cadence to trading hours.
type MarketHours struct {
	OpenHour  int
	CloseHour int
	Location  *time.Location
}

// DefaultMarketHours covers 09:00 through 16:59 local time, Monday
// through Friday.
func DefaultMarketHours() MarketHours {
	return MarketHours{
		OpenHour:  9,
		CloseHour: 16,
		Location:  time.Local,
	}
}

// IsOpen reports whether t falls inside trading hours.
func (m MarketHours) IsOpen(t time.Time) bool {
	local := t.In(m.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	hour := local.Hour()
	return hour >= m.OpenHour && hour <= m.CloseHour
}
