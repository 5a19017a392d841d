package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// fetchGamma calls GET {gamma}/events ordered by 24h volume.
func (s *Service) fetchGamma(ctx context.Context, limit int) ([]GammaEvent, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("active", "true")
	params.Set("archived", "false")
	params.Set("order", "volume24hr")
	params.Set("ascending", "false")
	endpoint := strings.TrimRight(s.cfg.GammaBaseURL, "/") + "/events?" + params.Encode()

	var body json.RawMessage
	if err := s.fetcher.GetJSON(ctx, endpoint, nil, &body); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("polymarket/gamma: %w", ErrUnexpectedShape)
	}
	var events []GammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	return events, nil
}
