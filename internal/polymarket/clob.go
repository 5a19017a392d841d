package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnexpectedShape is returned when an upstream body is neither of the
// documented response shapes.
var ErrUnexpectedShape = errors.New("polymarket: unexpected response shape")

// fetchCLOB calls GET {clob}/markets with the configured credentials.
func (s *Service) fetchCLOB(ctx context.Context, limit int) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("active", "true")
	params.Set("closed", "false")
	endpoint := strings.TrimRight(s.cfg.CLOBBaseURL, "/") + "/markets?" + params.Encode()

	headers := map[string]string{
		"Authorization": "Bearer " + s.cfg.APIKey,
		"X-API-SECRET":  s.cfg.Secret,
	}
	if s.cfg.Passphrase != "" {
		headers["X-PASSPHRASE"] = s.cfg.Passphrase
	}

	var body json.RawMessage
	if err := s.fetcher.GetJSON(ctx, endpoint, headers, &body); err != nil {
		return nil, fmt.Errorf("polymarket/clob: get markets: %w", err)
	}
	markets, err := decodeCLOBMarkets(body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: %w", err)
	}
	return markets, nil
}

// decodeCLOBMarkets accepts either a bare array or a {"data": [...]} envelope.
func decodeCLOBMarkets(body json.RawMessage) ([]APIMarket, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrUnexpectedShape
	}
	switch body[0] {
	case '[':
		var markets []APIMarket
		if err := json.Unmarshal(body, &markets); err != nil {
			return nil, fmt.Errorf("decode markets: %w", err)
		}
		return markets, nil
	case '{':
		var env struct {
			Data *[]APIMarket `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode markets: %w", err)
		}
		if env.Data == nil {
			return nil, ErrUnexpectedShape
		}
		return *env.Data, nil
	}
	return nil, ErrUnexpectedShape
}
