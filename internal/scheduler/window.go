package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/presswork/internal/models"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParsePublishDays parses a comma-separated weekday list such as
// "mon,wed,fri". An empty list means every day.
func ParsePublishDays(s string) (map[time.Weekday]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	days := map[time.Weekday]bool{}
	for _, part := range strings.Split(s, ",") {
		key := strings.ToLower(strings.TrimSpace(part))
		if len(key) > 3 {
			key = key[:3]
		}
		d, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("scheduler: unknown publish day %q", part)
		}
		days[d] = true
	}
	return days, nil
}

// siteLocation resolves the website's timezone, defaulting to UTC.
func siteLocation(site *models.Website) (*time.Location, error) {
	if site.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(site.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: website %s timezone %q: %w", site.ID, site.Timezone, err)
	}
	return loc, nil
}

// InWindow reports whether now falls on one of the website's publish days and
// inside its hour range, both in the website's timezone. The range includes
// PublishHourStart and excludes PublishHourEnd; an end at or before the start
// wraps past midnight.
func InWindow(site *models.Website, now time.Time) (bool, error) {
	loc, err := siteLocation(site)
	if err != nil {
		return false, err
	}
	days, err := ParsePublishDays(site.PublishDays)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	if days != nil && !days[local.Weekday()] {
		return false, nil
	}

	h, start, end := local.Hour(), site.PublishHourStart, site.PublishHourEnd
	if start < end {
		return h >= start && h < end, nil
	}
	return h >= start || h < end, nil
}

// startOfDay returns local midnight for now in the website's timezone, in UTC.
func startOfDay(site *models.Website, now time.Time) (time.Time, error) {
	loc, err := siteLocation(site)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC(), nil
}
