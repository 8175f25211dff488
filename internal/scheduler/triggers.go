package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RefreshRequester is satisfied by the refresh coordinator.
type RefreshRequester interface {
	RequestPriceRefresh() (bool, error)
	RequestDividendRefresh() (bool, error)
}

// now is swappable in tests.
var now = time.Now

// PriceRefreshJob requests a price sweep when the market is open.
// Scheduled every five minutes; outside trading hours the
// OffHoursPriceJob takes over at a slower cadence.
type PriceRefreshJob struct {
	Coordinator RefreshRequester
	Hours       MarketHours
	Log         zerolog.Logger
}

func (j *PriceRefreshJob) Name() string { return "price_refresh" }

func (j *PriceRefreshJob) Run() error {
	if !j.Hours.IsOpen(now()) {
		j.Log.Debug().Str("job", j.Name()).Msg("market closed, skipping")
		return nil
	}
	_, err := j.Coordinator.RequestPriceRefresh()
	return err
}

// OffHoursPriceJob requests an hourly price sweep while the market is
// closed, keeping valuations roughly current overnight and on weekends.
type OffHoursPriceJob struct {
	Coordinator RefreshRequester
	Hours       MarketHours
	Log         zerolog.Logger
}

func (j *OffHoursPriceJob) Name() string { return "off_hours_price_refresh" }

func (j *OffHoursPriceJob) Run() error {
	if j.Hours.IsOpen(now()) {
		return nil
	}
	_, err := j.Coordinator.RequestPriceRefresh()
	return err
}

// DividendRefreshJob requests the daily dividend sweep.
type DividendRefreshJob struct {
	Coordinator RefreshRequester
}

func (j *DividendRefreshJob) Name() string { return "dividend_refresh" }

func (j *DividendRefreshJob) Run() error {
	_, err := j.Coordinator.RequestDividendRefresh()
	return err
}

// Register installs the refresh triggers on their schedules. The price
// sweep runs every priceInterval during market hours, hourly otherwise;
// dividends are swept once a day.
func Register(s *Scheduler, coordinator RefreshRequester, hours MarketHours, priceInterval time.Duration, log zerolog.Logger) error {
	jobs := []struct {
		schedule string
		job      Job
	}{
		{fmt.Sprintf("@every %s", priceInterval), &PriceRefreshJob{Coordinator: coordinator, Hours: hours, Log: log}},
		{"30 * * * *", &OffHoursPriceJob{Coordinator: coordinator, Hours: hours, Log: log}},
		{"0 6 * * *", &DividendRefreshJob{Coordinator: coordinator}},
	}
	for _, entry := range jobs {
		if err := s.AddJob(entry.schedule, entry.job); err != nil {
			return err
		}
	}
	return nil
}
