package travel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fieldroute/internal/opt"
)

// ORSConfig configures the OpenRouteService provider.
type ORSConfig struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Profile  string        `yaml:"profile"`
	RPS      float64       `yaml:"rps"`
	Burst    int           `yaml:"burst"`
	Timeout  time.Duration `yaml:"timeout"`
	SpeedKph float64       `yaml:"-"`
}

// ORS implements Provider with the OpenRouteService directions API. Calls
// are throttled client side and transient failures are retried with
// exponential backoff. Safe for concurrent use.
type ORS struct {
	session  *http.Client
	apiKey   string
	baseURL  string
	profile  string
	limiter  *rate.Limiter
	speedKph float64
	backoff  time.Duration
}

// NewORS validates cfg and returns a provider.
func NewORS(cfg ORSConfig) (*ORS, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ORS api key is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openrouteservice.org"
	}
	if cfg.Profile == "" {
		cfg.Profile = "driving-car"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &ORS{
		session:  &http.Client{Timeout: cfg.Timeout},
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		profile:  cfg.Profile,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		speedKph: cfg.SpeedKph,
		backoff:  200 * time.Millisecond,
	}, nil
}

type orsRequest struct {
	Coordinates  [][2]float64 `json:"coordinates"`
	Instructions bool         `json:"instructions"`
	Units        string       `json:"units"`
}

type orsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"summary"`
		Segments []struct {
			Steps []struct {
				Distance    float64 `json:"distance"`
				Duration    float64 `json:"duration"`
				Instruction string  `json:"instruction"`
				Name        string  `json:"name"`
			} `json:"steps"`
		} `json:"segments"`
	} `json:"routes"`
}

func (o *ORS) Route(ctx context.Context, from, to opt.Coordinate) (Result, error) {
	body, err := json.Marshal(orsRequest{
		Coordinates:  [][2]float64{{from.Lng, from.Lat}, {to.Lng, to.Lat}},
		Instructions: true,
		Units:        "m",
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode ORS request: %w", err)
	}
	url := fmt.Sprintf("%s/v2/directions/%s/json", o.baseURL, o.profile)
	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, http.MethodPost, url, bytes.NewReader(body))
	})
	if err != nil {
		return Result{}, fmt.Errorf("ORS directions: %w", err)
	}
	defer resp.Body.Close()

	var out orsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode ORS directions: %w", err)
	}
	if len(out.Routes) == 0 {
		return Result{}, ErrNoRoute
	}
	rt := out.Routes[0]
	res := Result{
		Distance: rt.Summary.Distance,
		Duration: time.Duration(rt.Summary.Duration * float64(time.Second)),
	}
	for _, seg := range rt.Segments {
		for _, st := range seg.Steps {
			res.Steps = append(res.Steps, Step{
				Instruction: st.Instruction,
				Street:      strings.TrimSpace(strings.Trim(st.Name, "-")),
				Distance:    st.Distance,
				Duration:    time.Duration(st.Duration * float64(time.Second)),
			})
		}
	}
	res.Severity = opt.SeverityNormal
	if free := opt.FreeFlow(res.Distance, o.speedKph); free > 0 {
		res.Severity = opt.ClassifySeverity(float64(res.Duration) / float64(free))
	}
	return res, nil
}

func (o *ORS) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (o *ORS) do(req *http.Request) (*http.Response, error) {
	resp, err := o.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries 429, 5xx and network errors with exponential backoff.
// Every attempt waits for the rate limiter first.
func (o *ORS) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	const maxAttempts = 4
	backoff := o.backoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := o.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var se *StatusError
		if errors.As(err, &se) {
			switch se.Code {
			case http.StatusNotFound:
				// ORS answers 404 when no routable path exists
				return nil, fmt.Errorf("%w: %v", ErrNoRoute, err)
			case http.StatusTooManyRequests, 500, 502, 503, 504:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == maxAttempts {
			return nil, lastErr
		}
		log.Printf("[ors] retry attempt=%d backoff=%s err=%v", attempt, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}
