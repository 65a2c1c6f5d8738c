package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/betbot/spotmm/internal/core"
)

// statusPoller 拉取 /status
type statusPoller struct {
	http *resty.Client
}

func newStatusPoller(baseURL string) *statusPoller {
	return &statusPoller{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(2 * time.Second),
	}
}

func (p *statusPoller) Fetch(ctx context.Context) (*core.Status, error) {
	var st core.Status
	resp, err := p.http.R().SetContext(ctx).SetResult(&st).Get("/status")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status: http %d", resp.StatusCode())
	}
	return &st, nil
}
