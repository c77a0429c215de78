// Package weather provides the "weather_search_tool" capability backed by the
// OpenWeatherMap current weather API.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/arbiter/internal/capability"
)

// Name is the capability name.
const Name = "weather_search_tool"

// DefaultBaseURL is the OpenWeatherMap API root.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// ErrUnknownLocation is returned when the service does not know the
// city/country pair.
var ErrUnknownLocation = errors.New("unknown city/country pair; retry with a different pair or ask the user")

// Client queries OpenWeatherMap.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides [DefaultBaseURL].
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("weather: api key must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type args struct {
	City    string `json:"city" jsonschema:"description=City name exactly as confirmed with the user"`
	Country string `json:"country" jsonschema:"description=ISO 3166-1 alpha-2 country code such as FR or US"`
}

// Capability returns the weather_search_tool capability using c.
func (c *Client) Capability(opts ...capability.Option) capability.Capability {
	return capability.New(Name,
		"Fetches current meteorological data for an explicit city and ISO 3166-1 alpha-2 country code. Only call it once both are unambiguous.",
		func(ctx context.Context, a args) (string, error) {
			return c.Current(ctx, a.City, a.Country)
		}, opts...)
}

// Current returns a plain-text report of the current weather.
func (c *Client) Current(ctx context.Context, city, country string) (string, error) {
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)
	if city == "" || country == "" {
		return "", fmt.Errorf("weather: %w", capability.ErrInvalidArguments)
	}

	params := url.Values{
		"q":     {city + "," + country},
		"units": {"metric"},
		"appid": {c.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("weather: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("weather: %s, %s: %w", city, country, ErrUnknownLocation)
	case http.StatusUnauthorized:
		return "", errors.New("weather: service rejected the credentials")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("weather: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("weather: read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("weather: response is not valid JSON")
	}
	return formatReport(gjson.ParseBytes(body)), nil
}

// formatReport renders the fields of a current-weather response.
func formatReport(r gjson.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "In %s, %s, the current weather is as follows:\n", r.Get("name").String(), r.Get("sys.country").String())
	fmt.Fprintf(&b, "Detailed status: %s\n", r.Get("weather.0.description").String())
	fmt.Fprintf(&b, "Wind speed: %.1f m/s, direction: %d°\n", r.Get("wind.speed").Float(), r.Get("wind.deg").Int())
	fmt.Fprintf(&b, "Humidity: %d%%\n", r.Get("main.humidity").Int())
	b.WriteString("Temperature:\n")
	fmt.Fprintf(&b, "  - Current: %.1f°C\n", r.Get("main.temp").Float())
	fmt.Fprintf(&b, "  - High: %.1f°C\n", r.Get("main.temp_max").Float())
	fmt.Fprintf(&b, "  - Low: %.1f°C\n", r.Get("main.temp_min").Float())
	fmt.Fprintf(&b, "  - Feels like: %.1f°C\n", r.Get("main.feels_like").Float())
	if rain := r.Get("rain.1h"); rain.Exists() {
		fmt.Fprintf(&b, "Rain (last hour): %.1f mm\n", rain.Float())
	}
	if snow := r.Get("snow.1h"); snow.Exists() {
		fmt.Fprintf(&b, "Snow (last hour): %.1f mm\n", snow.Float())
	}
	fmt.Fprintf(&b, "Cloud cover: %d%%", r.Get("clouds.all").Int())
	return b.String()
}
