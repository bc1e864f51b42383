package tools

import (
	"context"
	"fmt"
	"time"
)

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=The city and state such as San Francisco CA"`
	Format   string `json:"format" jsonschema:"enum=celsius,enum=fahrenheit,description=The temperature unit to use"`
}

type forecastArgs struct {
	Location string `json:"location" jsonschema:"description=The city and state such as San Francisco CA"`
	Format   string `json:"format" jsonschema:"enum=celsius,enum=fahrenheit,description=The temperature unit to use"`
	NumDays  int    `json:"num_days" jsonschema:"minimum=1,description=The number of days to forecast"`
}

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Europe/Paris"`
}

// RegisterBuiltins adds the demo functions shipped with the engine.
func RegisterBuiltins(r *Registry) error {
	if err := RegisterFunc(r, "get_current_weather", "Get the current weather", currentWeather); err != nil {
		return err
	}
	if err := RegisterFunc(r, "get_n_day_weather_forecast", "Get an N-day weather forecast", forecast); err != nil {
		return err
	}
	return RegisterFunc(r, "get_current_time", "Get the current time", currentTime)
}

func currentWeather(_ context.Context, args weatherArgs) (string, error) {
	// dummy weather
	return fmt.Sprintf("The current weather in %s is %d degrees %s", args.Location, 20, args.Format), nil
}

func forecast(_ context.Context, args forecastArgs) (string, error) {
	return fmt.Sprintf("The weather forecast for the next %d days in %s is %d degrees %s",
		args.NumDays, args.Location, 20, args.Format), nil
}

func currentTime(_ context.Context, args timeArgs) (string, error) {
	loc := time.UTC
	if args.Timezone != "" {
		l, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", args.Timezone)
		}
		loc = l
	}
	return time.Now().In(loc).Format(time.RFC3339), nil
}
