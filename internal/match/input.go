package match

import (
	"errors"
	"strings"
	"time"

	"github.com/lalith-99/rundy/internal/apperr"
	"github.com/lalith-99/rundy/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// CreateInput is the match form as submitted. Date and Time are kept apart
// the way the user picks them; Latitude and Longitude are only present when
// the address came from autocomplete.
type CreateInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Sport       string   `json:"sport_type"`
	Address     string   `json:"location"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Date        string   `json:"date"`
	Time        string   `json:"time"`
	TimeZone    string   `json:"time_zone"`
	MaxPlayers  int      `json:"max_players"`
	Price       float64  `json:"price"`
}

func (in CreateInput) normalize(op string, defaultLoc *time.Location) (models.NewMatch, error) {
	var nm models.NewMatch

	nm.Title = strings.TrimSpace(in.Title)
	if nm.Title == "" {
		return nm, apperr.Validation(op, "title is required")
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		nm.Description = &d
	}

	sport, ok := models.ParseSport(in.Sport)
	if !ok {
		return nm, apperr.Validation(op, "sport is required")
	}
	nm.Sport = sport

	nm.Location.Address = strings.TrimSpace(in.Address)
	if nm.Location.Address == "" {
		return nm, apperr.Validation(op, "location is required")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nm, apperr.Validation(op, "latitude and longitude go together")
	}
	if in.Latitude != nil {
		if *in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180 {
			return nm, apperr.Validation(op, "coordinates out of range")
		}
		nm.Location.Latitude = in.Latitude
		nm.Location.Longitude = in.Longitude
	}

	loc := defaultLoc
	if in.TimeZone != "" {
		l, err := time.LoadLocation(in.TimeZone)
		if err != nil {
			return nm, apperr.Validation(op, "unknown time zone")
		}
		loc = l
	}
	when, err := CombineDateTime(in.Date, in.Time, loc)
	if err != nil {
		return nm, apperr.Validation(op, err.Error())
	}
	nm.Date = when

	if in.MaxPlayers <= 0 {
		return nm, apperr.Validation(op, "max players must be positive")
	}
	nm.MaxPlayers = in.MaxPlayers

	if in.Price < 0 {
		return nm, apperr.Validation(op, "price cannot be negative")
	}
	nm.Price = in.Price

	return nm, nil
}

// CombineDateTime turns a calendar date (YYYY-MM-DD) and a time of day
// (HH:MM) into one instant in loc.
func CombineDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, errors.New("date is required")
	}
	if clock == "" {
		return time.Time{}, errors.New("time is required")
	}
	if loc == nil {
		loc = time.Local
	}

	d, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	// Accept seconds from time inputs that send them.
	if len(clock) == len("15:04:05") {
		clock = clock[:len(timeLayout)]
	}
	t, err := time.Parse(timeLayout, clock)
	if err != nil {
		return time.Time{}, errors.New("time must be HH:MM")
	}

	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
