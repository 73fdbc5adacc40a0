// Package keepalive periodically requests the public health endpoint so
// hosting platforms that idle inactive instances keep the relay running.
package keepalive

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultInterval       = 10 * time.Minute
	defaultRequestTimeout = 10 * time.Second
	healthPath            = "/healthz"
)

type (
	Config struct {
		Logger   *zerolog.Logger
		URL      string
		Interval time.Duration
		Client   *http.Client
	}

	Pinger struct {
		logger   zerolog.Logger
		client   *http.Client
		target   string
		interval time.Duration
	}
)

func New(cfg Config) *Pinger {
	p := &Pinger{
		logger:   cfg.Logger.With().Str("component", "keepalive").Logger(),
		client:   cfg.Client,
		target:   strings.TrimRight(cfg.URL, "/") + healthPath,
		interval: cfg.Interval,
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: defaultRequestTimeout}
	}
	if p.interval <= 0 {
		p.interval = defaultInterval
	}
	return p
}

func (p *Pinger) Run(ctx context.Context, wg *sync.WaitGroup) {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		p.logger.Debug().Msg("keepalive stopped")
		wg.Done()
	}()

	p.logger.Info().Str("target", p.target).Dur("interval", p.interval).Msg("keepalive started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ping(ctx)
		}
	}
}

// ping reports the status code, or -1 when the request itself failed.
func (p *Pinger) ping(ctx context.Context) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		p.logger.Error().Err(err).Msg("cannot build keepalive request")
		return -1
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("keepalive ping failed")
		}
		return -1
	}
	_ = resp.Body.Close()
	p.logger.Debug().Int("status", resp.StatusCode).Msg("keepalive ping")
	return resp.StatusCode
}
