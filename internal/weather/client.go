// Package weather fetches current conditions for the monitored location from OpenWeather.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"floodmon-gateway/internal/telemetry"
)

// ErrFetchFailed wraps every failed poll: transport, HTTP status, decoding or a missing field.
var ErrFetchFailed = errors.New("weather fetch failed")

type Options struct {
	Endpoint string
	City     string
	APIKey   string
	Timeout  time.Duration
}

type currentResponse struct {
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description *string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Rain *struct {
		OneHour *float64 `json:"1h"`
	} `json:"rain"`
}

type Client struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewClient builds the request URL once; a nil now uses time.Now.
func NewClient(opts Options, now func() time.Time) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid weather endpoint %q", endpoint)
	}
	q := u.Query()
	q.Set("q", opts.City)
	q.Set("appid", opts.APIKey)
	q.Set("units", "metric")
	u.RawQuery = q.Encode()

	if now == nil {
		now = time.Now
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    u.String(),
		client: &http.Client{Timeout: timeout},
		now:    now,
	}, nil
}

// Fetch performs one request. It never retries; the scheduler polls again on
// its next interval.
func (c *Client) Fetch(ctx context.Context) (telemetry.WeatherSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return telemetry.WeatherSnapshot{}, fmt.Errorf("%w: build request: %v", ErrFetchFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return telemetry.WeatherSnapshot{}, fmt.Errorf("%w: request: %v", ErrFetchFailed, redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return telemetry.WeatherSnapshot{}, fmt.Errorf("%w: unexpected status %s: %s", ErrFetchFailed, resp.Status, strings.TrimSpace(string(b)))
	}

	var payload currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return telemetry.WeatherSnapshot{}, fmt.Errorf("%w: decode payload: %v", ErrFetchFailed, err)
	}
	return c.snapshot(payload)
}

func (c *Client) snapshot(p currentResponse) (telemetry.WeatherSnapshot, error) {
	var missing []string
	if p.Main.Temp == nil {
		missing = append(missing, "main.temp")
	}
	if p.Main.Humidity == nil {
		missing = append(missing, "main.humidity")
	}
	if p.Main.Pressure == nil {
		missing = append(missing, "main.pressure")
	}
	if len(p.Weather) == 0 || p.Weather[0].Description == nil {
		missing = append(missing, "weather[0].description")
	}
	if p.Wind.Speed == nil {
		missing = append(missing, "wind.speed")
	}
	if len(missing) > 0 {
		return telemetry.WeatherSnapshot{}, fmt.Errorf("%w: missing %s", ErrFetchFailed, strings.Join(missing, ", "))
	}

	// No rain.1h means the provider had no precipitation data, recorded as 0.
	precipitation := 0.0
	if p.Rain != nil && p.Rain.OneHour != nil {
		precipitation = *p.Rain.OneHour
	}

	return telemetry.WeatherSnapshot{
		Temperature:           *p.Main.Temp,
		Humidity:              *p.Main.Humidity,
		Pressure:              *p.Main.Pressure,
		Description:           *p.Weather[0].Description,
		WindSpeed:             *p.Wind.Speed,
		PrecipitationLastHour: precipitation,
		Timestamp:             telemetry.FormatTimestamp(c.now()),
	}, nil
}

// redact strips the request URL, which carries the API key, from transport errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
