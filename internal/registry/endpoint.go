package registry

import (
	"fmt"
	"net/url"
	"sync/atomic"
	"time"
)

// Status represents the health status of an endpoint.
type Status int32

const (
	// StatusUnknown indicates the endpoint has not been probed yet.
	StatusUnknown Status = iota
	// StatusHealthy indicates the last probe succeeded.
	StatusHealthy
	// StatusUnhealthy indicates the last probe failed.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Endpoint represents one upstream instance of a service. The identity
// fields are written once by Register; the runtime state is updated
// through atomics so readers never take the shard lock for them.
type Endpoint struct {
	// Service is the logical service name this endpoint belongs to.
	Service string

	// BaseURL is the scheme://host:port root requests are forwarded to.
	BaseURL string

	// Weight biases selection toward this endpoint. Defaults to 1.
	Weight int

	// HealthPath is the probe path relative to BaseURL.
	HealthPath string

	// Version is an optional deployment version tag.
	Version string

	// Tags carry optional routing metadata.
	Tags []string

	status       atomic.Int32
	misses       atomic.Int32
	lastProbe    atomic.Int64
	inflight     atomic.Int64
	registeredAt time.Time
}

// Validate checks that the endpoint identity is usable.
func (e *Endpoint) Validate() error {
	if e.Service == "" {
		return fmt.Errorf("endpoint service name is required")
	}
	if e.BaseURL == "" {
		return fmt.Errorf("endpoint base URL is required")
	}
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint base URL %q: %w", e.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint base URL %q must use http or https", e.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint base URL %q has no host", e.BaseURL)
	}
	return nil
}

// Status returns the endpoint health status.
func (e *Endpoint) Status() Status {
	return Status(e.status.Load())
}

func (e *Endpoint) setStatus(status Status) {
	e.status.Store(int32(status))
}

// Eligible reports whether the endpoint may serve traffic. Endpoints
// that have never been probed are eligible until the first probe says
// otherwise.
func (e *Endpoint) Eligible() bool {
	return e.Status() != StatusUnhealthy
}

// ConsecutiveMisses returns the current count of consecutive failed
// probes.
func (e *Endpoint) ConsecutiveMisses() int {
	return int(e.misses.Load())
}

// LastProbe returns the time of the most recent probe, zero when the
// endpoint has never been probed.
func (e *Endpoint) LastProbe() time.Time {
	n := e.lastProbe.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Acquire increments the in-flight request count.
func (e *Endpoint) Acquire() {
	e.inflight.Add(1)
}

// Release decrements the in-flight request count.
func (e *Endpoint) Release() {
	e.inflight.Add(-1)
}

// Inflight returns the current in-flight request count.
func (e *Endpoint) Inflight() int64 {
	return e.inflight.Load()
}

// RegisteredAt returns when the endpoint was first registered.
func (e *Endpoint) RegisteredAt() time.Time {
	return e.registeredAt
}

// Info is a point-in-time view of an endpoint for status surfaces.
type Info struct {
	Service           string    `json:"service"`
	BaseURL           string    `json:"baseUrl"`
	Weight            int       `json:"weight"`
	HealthPath        string    `json:"healthPath,omitempty"`
	Version           string    `json:"version,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	Status            string    `json:"status"`
	ConsecutiveMisses int       `json:"consecutiveMisses"`
	LastProbe         time.Time `json:"lastProbe"`
	Inflight          int64     `json:"inflight"`
	RegisteredAt      time.Time `json:"registeredAt"`
}

// Info snapshots the endpoint.
func (e *Endpoint) Info() Info {
	return Info{
		Service:           e.Service,
		BaseURL:           e.BaseURL,
		Weight:            e.Weight,
		HealthPath:        e.HealthPath,
		Version:           e.Version,
		Tags:              e.Tags,
		Status:            e.Status().String(),
		ConsecutiveMisses: e.ConsecutiveMisses(),
		LastProbe:         e.LastProbe(),
		Inflight:          e.Inflight(),
		RegisteredAt:      e.registeredAt,
	}
}
