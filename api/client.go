package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"polymarket-copytrader/models"
)

// Client fetches trader positions from the Polymarket data API.
// It is a pure read interface; order flow goes through ClobClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a data API client. Read calls are bounded by a 10s
// timeout so one slow trader fetch cannot stall a whole monitoring cycle.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://data-api.polymarket.com"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// dataAPIPosition mirrors one entry of the data API positions payload.
type dataAPIPosition struct {
	Market   string  `json:"conditionId"`
	AssetID  string  `json:"asset"`
	Title    string  `json:"title"`
	Slug     string  `json:"slug"`
	Outcome  string  `json:"outcome"`
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avgPrice"`
	Value    float64 `json:"currentValue"`
}

// GetPositions returns the trader's current open positions. Entries without
// a market or token identifier are dropped; the exchange occasionally emits
// dust rows for resolved markets.
func (c *Client) GetPositions(ctx context.Context, traderAddress string) ([]models.PositionSnapshot, error) {
	values := url.Values{}
	values.Set("user", traderAddress)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/positions?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch positions for %s: %w", traderAddress, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch positions for %s: %d %s", traderAddress, resp.StatusCode, string(body))
	}

	var raw []dataAPIPosition
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode positions for %s: %w", traderAddress, err)
	}

	now := time.Now().UTC()
	positions := make([]models.PositionSnapshot, 0, len(raw))
	for _, pos := range raw {
		if pos.Market == "" || pos.AssetID == "" {
			continue
		}
		title := pos.Title
		if title == "" {
			title = pos.Slug
		}
		positions = append(positions, models.PositionSnapshot{
			TraderAddress: traderAddress,
			MarketID:      pos.Market,
			TokenID:       pos.AssetID,
			MarketTitle:   title,
			Side:          pos.Outcome,
			Size:          pos.Size,
			AvgPrice:      pos.AvgPrice,
			CapturedAt:    now,
		})
	}

	log.Printf("[DataAPI] Fetched %d position(s) for %s", len(positions), shortAddr(traderAddress))
	return positions, nil
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:8] + "..."
}
