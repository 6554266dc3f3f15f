package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// cTimeLayout matches the C library's "%c" rendering in the POSIX locale,
// e.g. "Thu Oct 16 14:03:05 2026".
const cTimeLayout = "Mon Jan _2 15:04:05 2006"

// Options injects the clock and randomness used by the booking tools.
type Options struct {
	Now  func() time.Time
	Intn func(n int) int // uniform in [0, n)
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Intn == nil {
		o.Intn = rand.IntN
	}
	return o
}

// BookingTools returns a registry with the four restaurant booking tools.
func BookingTools(opts Options) *Registry {
	opts = opts.withDefaults()
	return NewRegistry(
		currentDateTime{now: opts.Now},
		tableAvailability{},
		saveBooking{intn: opts.Intn},
		joinWaitlist{intn: opts.Intn},
	)
}

// ---- fetch_current_date_time ----

type currentDateTime struct{ now func() time.Time }

func (currentDateTime) Name() string { return "fetch_current_date_time" }

func (currentDateTime) Description() string {
	return "Fetch the current date and time in UTC."
}

func (currentDateTime) Parameters() jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{}}
}

func (t currentDateTime) Execute(context.Context, UserInfo, json.RawMessage) Result {
	return NewResult(t.now().UTC().Format(cTimeLayout))
}

// ---- fetch_table_availability ----

type availabilityArgs struct {
	RestaurantName string   `json:"restaurant_name"`
	Date           string   `json:"date"`
	TimeWindow     []string `json:"time_window"`
	NumberOfPerson int      `json:"number_of_person"`
}

type tableAvailability struct{}

func (tableAvailability) Name() string { return "fetch_table_availability" }

func (tableAvailability) Description() string {
	return "Fetch table availability at a restaurant for a date, a time window and a party size."
}

func (tableAvailability) Parameters() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"restaurant_name": {Type: jsonschema.String, Description: "Name of the restaurant"},
			"date":            {Type: jsonschema.String, Description: "Date in dd/mm/yyyy format"},
			"time_window": {
				Type:        jsonschema.Array,
				Description: "Start and end time of the window, e.g. [\"19:00\", \"21:00\"]",
				Items:       &jsonschema.Definition{Type: jsonschema.String},
			},
			"number_of_person": {Type: jsonschema.Integer, Description: "Party size"},
		},
		Required: []string{"restaurant_name", "date", "time_window", "number_of_person"},
	}
}

func (t tableAvailability) Execute(_ context.Context, _ UserInfo, raw json.RawMessage) Result {
	var a availabilityArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return ErrorResult("invalid arguments for %s: %v", t.Name(), err)
	}
	if missing := missingFields(map[string]string{
		"restaurant_name": a.RestaurantName,
		"date":            a.Date,
	}); missing != "" {
		return ErrorResult("missing %s", missing)
	}
	if len(a.TimeWindow) != 2 {
		return ErrorResult("time_window must hold a start and an end time")
	}
	if a.NumberOfPerson < 1 {
		return ErrorResult("number_of_person must be at least 1")
	}
	return NewResult(fmt.Sprintf("We have seats available at %s for %s.", a.RestaurantName, a.Date))
}

// ---- save_booking / join_waitlist ----

type reservationArgs struct {
	RestaurantName string `json:"restaurant_name"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	NumberOfPerson int    `json:"number_of_person"`
	CustomerName   string `json:"customer_name"`
	CustomerPhone  string `json:"customer_phone"`
}

func reservationParameters() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"restaurant_name":  {Type: jsonschema.String, Description: "Name of the restaurant"},
			"date":             {Type: jsonschema.String, Description: "Date in dd/mm/yyyy format"},
			"time":             {Type: jsonschema.String, Description: "Time in HH:MM format"},
			"number_of_person": {Type: jsonschema.Integer, Description: "Party size"},
			"customer_name":    {Type: jsonschema.String, Description: "Name the booking is held under"},
			"customer_phone":   {Type: jsonschema.String, Description: "Contact phone number"},
		},
		Required: []string{"restaurant_name", "date", "time", "number_of_person", "customer_name", "customer_phone"},
	}
}

// decodeReservation parses and validates reservation arguments. A missing
// phone number falls back to the caller's channel identifier.
func decodeReservation(name string, raw json.RawMessage, user UserInfo) (reservationArgs, *Result) {
	var a reservationArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		r := ErrorResult("invalid arguments for %s: %v", name, err)
		return a, &r
	}
	if strings.TrimSpace(a.CustomerPhone) == "" {
		a.CustomerPhone = user.UID
	}
	if missing := missingFields(map[string]string{
		"restaurant_name": a.RestaurantName,
		"date":            a.Date,
		"time":            a.Time,
		"customer_name":   a.CustomerName,
		"customer_phone":  a.CustomerPhone,
	}); missing != "" {
		r := ErrorResult("missing %s", missing)
		return a, &r
	}
	if a.NumberOfPerson < 1 {
		r := ErrorResult("number_of_person must be at least 1")
		return a, &r
	}
	return a, nil
}

type saveBooking struct{ intn func(int) int }

func (saveBooking) Name() string { return "save_booking" }

func (saveBooking) Description() string {
	return "Save a confirmed table booking at a restaurant."
}

func (saveBooking) Parameters() jsonschema.Definition { return reservationParameters() }

func (t saveBooking) Execute(_ context.Context, user UserInfo, raw json.RawMessage) Result {
	a, bad := decodeReservation(t.Name(), raw, user)
	if bad != nil {
		return *bad
	}
	ref := t.intn(10000)
	return NewResult(fmt.Sprintf(
		"Booking confirmed at %s for %s on %s at %s for %d people. Your booking reference is #%d.",
		a.RestaurantName, a.CustomerName, a.Date, a.Time, a.NumberOfPerson, ref,
	))
}

type joinWaitlist struct{ intn func(int) int }

func (joinWaitlist) Name() string { return "join_waitlist" }

func (joinWaitlist) Description() string {
	return "Add the customer to the waitlist of a fully booked restaurant."
}

func (joinWaitlist) Parameters() jsonschema.Definition { return reservationParameters() }

func (t joinWaitlist) Execute(_ context.Context, user UserInfo, raw json.RawMessage) Result {
	a, bad := decodeReservation(t.Name(), raw, user)
	if bad != nil {
		return *bad
	}
	pos := t.intn(10) + 1
	return NewResult(fmt.Sprintf(
		"Added %s to the waitlist for %s on %s at %s. You are currently position #%d on the waitlist. We'll contact you at %s if a table becomes available.",
		a.CustomerName, a.RestaurantName, a.Date, a.Time, pos, a.CustomerPhone,
	))
}

// missingFields returns the sorted, comma-joined names of blank fields.
func missingFields(fields map[string]string) string {
	var out []string
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return ""
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
