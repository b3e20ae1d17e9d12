package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"polymarket-copytrader/models"
)

// ErrNoLiquidity is returned by GetMarketData when the book has no resting
// bids or asks. Callers substitute a synthetic wide-spread quote instead of
// treating it as a hard failure.
var ErrNoLiquidity = errors.New("no liquidity in order book")

// ClobClient submits, cancels and inspects orders on the Polymarket CLOB.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	auth          *Auth
	apiCreds      *APICreds
	chainID       int64
	funder        common.Address
	signatureType int // 0=EOA, 1=Magic/Email, 2=Browser proxy
	quotes        *QuoteFeed
}

// APICreds holds L2 API credentials for the CLOB.
type APICreds struct {
	APIKey        string `json:"apiKey"`
	APISecret     string `json:"secret"`
	APIPassphrase string `json:"passphrase"`
}

// OrderBook represents the resting book for a token.
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel represents a single price level.
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// MarketData is the quote summary consumed by the pricing engine.
type MarketData struct {
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Spread    float64
	SpreadPct float64 // spread relative to mid price, in percent
}

// NewMarketData derives mid/spread figures from a bid and ask.
func NewMarketData(bid, ask float64) *MarketData {
	mid := (bid + ask) / 2
	spread := ask - bid
	spreadPct := 0.0
	if mid > 0 {
		spreadPct = spread / mid * 100
	}
	return &MarketData{
		BestBid:   bid,
		BestAsk:   ask,
		MidPrice:  mid,
		Spread:    spread,
		SpreadPct: spreadPct,
	}
}

// DefaultMarketData is the degraded quote used when a book is empty: a
// deliberately wide synthetic spread so pricing stays conservative.
func DefaultMarketData() *MarketData {
	return NewMarketData(0.45, 0.55)
}

// OrderStatus is the exchange-reported state of a submitted order.
type OrderStatus struct {
	OrderID       string
	Status        string // LIVE, MATCHED, DELAYED, CANCELED
	FilledSize    float64
	RemainingSize float64
	Price         float64
}

// Filled reports whether the order is completely executed.
func (s *OrderStatus) Filled() bool {
	if strings.EqualFold(s.Status, "MATCHED") {
		return true
	}
	return s.FilledSize > 0 && s.RemainingSize <= 0
}

// OrderType represents the lifetime of an order.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill (market order)
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled (limit order)
)

// Order represents a signed exchange order.
type Order struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
	SideInt       int    `json:"-"` // Internal use for EIP-712 signing
}

// OrderRequest is the payload for placing an order.
type OrderRequest struct {
	Order     Order     `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

// OrderResponse is the response from placing an order.
type OrderResponse struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderId"`
	OrderHashes []string `json:"orderHashes"`
	Status      string   `json:"status"` // matched, live, delayed, unmatched
}

// NewClobClient creates a new CLOB API client.
func NewClobClient(baseURL string, auth *Auth) (*ClobClient, error) {
	if baseURL == "" {
		baseURL = "https://clob.polymarket.com"
	}

	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:          auth,
		chainID:       137, // Polygon mainnet
		funder:        auth.GetAddress(),
		signatureType: 0, // Default to EOA
	}, nil
}

// SetFunder sets the funder address for Magic/Email wallets.
// The funder is the Polymarket profile address where USDC is held.
func (c *ClobClient) SetFunder(funderAddress string) {
	c.funder = common.HexToAddress(funderAddress)
	c.signatureType = 1
}

// SetQuoteFeed attaches a live websocket quote cache. When set, GetMarketData
// serves from the feed and only falls back to REST for cold tokens.
func (c *ClobClient) SetQuoteFeed(feed *QuoteFeed) {
	c.quotes = feed
}

// DeriveAPICreds derives or creates L2 API credentials.
func (c *ClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	creds, err := c.createAPICreds(ctx)
	if err == nil && creds != nil {
		c.apiCreds = creds
		log.Printf("[CLOB] Created new API credentials")
		return creds, nil
	}

	log.Printf("[CLOB] Creating creds failed (%v), trying to derive existing", err)
	creds, err = c.deriveAPICreds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to derive API creds: %w", err)
	}

	c.apiCreds = creds
	return creds, nil
}

func (c *ClobClient) deriveAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("derive API creds failed: %d %s", resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}
	return &creds, nil
}

func (c *ClobClient) createAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	nonce := time.Now().UnixNano()
	body := fmt.Sprintf(`{"nonce":%d}`, nonce)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/auth/api-key", bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create API creds failed: %d %s", resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}
	return &creds, nil
}

// GetOrderBook fetches the resting book for a token over REST.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/book?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order book failed: %d %s", resp.StatusCode, string(body))
	}

	var book OrderBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("failed to decode order book: %w", err)
	}
	return &book, nil
}

// GetMarketData returns the current best bid/ask summary for a token.
// Returns ErrNoLiquidity when the book has no resting orders on either side.
func (c *ClobClient) GetMarketData(ctx context.Context, tokenID string) (*MarketData, error) {
	if c.quotes != nil {
		if md, ok := c.quotes.Quote(tokenID); ok {
			return md, nil
		}
		// Cold token: add it to the watch set so later cycles are served
		// from the feed
		c.quotes.Subscribe(tokenID)
	}

	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return nil, ErrNoLiquidity
	}

	bestBid, err := strconv.ParseFloat(book.Bids[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed bid price %q: %w", book.Bids[0].Price, err)
	}
	bestAsk, err := strconv.ParseFloat(book.Asks[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed ask price %q: %w", book.Asks[0].Price, err)
	}

	return NewMarketData(bestBid, bestAsk), nil
}

// PlaceLimitOrder places a GTC limit order and returns the exchange order ID.
func (c *ClobClient) PlaceLimitOrder(ctx context.Context, tokenID string, side models.OrderSide, size, price float64) (string, error) {
	if err := c.ensureCreds(ctx); err != nil {
		return "", err
	}

	order, err := c.createSignedOrder(tokenID, side, size, price)
	if err != nil {
		return "", fmt.Errorf("failed to create signed order: %w", err)
	}

	resp, err := c.postOrder(ctx, order, OrderTypeGTC)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("limit order rejected: %s", resp.ErrorMsg)
	}
	return resp.OrderID, nil
}

// PlaceMarketOrder places a FOK order for the given notional. The limit price
// is derived by walking the current book, matching how the exchange fills FOK
// orders against resting liquidity.
func (c *ClobClient) PlaceMarketOrder(ctx context.Context, tokenID string, side models.OrderSide, notionalUSDC float64) (string, error) {
	if err := c.ensureCreds(ctx); err != nil {
		return "", err
	}

	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return "", fmt.Errorf("failed to get order book: %w", err)
	}

	size, avgPrice, filled := CalculateOptimalFill(book, side, notionalUSDC)
	if size == 0 {
		return "", fmt.Errorf("cannot fill order: insufficient liquidity")
	}

	log.Printf("[CLOB] Market order: %s $%.4f at avg price %.4f (size: %.4f)",
		side, filled, avgPrice, size)

	order, err := c.createSignedOrder(tokenID, side, size, avgPrice)
	if err != nil {
		return "", fmt.Errorf("failed to create signed order: %w", err)
	}

	resp, err := c.postOrder(ctx, order, OrderTypeFOK)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("market order rejected: %s", resp.ErrorMsg)
	}
	return resp.OrderID, nil
}

// CancelOrder cancels a resting order by exchange order ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.ensureCreds(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"orderID": orderID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel order %s failed: %d %s", orderID, resp.StatusCode, string(respBody))
	}

	log.Printf("[CLOB] Cancelled order %s", orderID)
	return nil
}

// GetOrderStatus fetches the live state of an order.
func (c *ClobClient) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	if err := c.ensureCreds(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/data/order/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order status for %s failed: %d %s", orderID, resp.StatusCode, string(respBody))
	}

	var raw struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		OriginalSize string `json:"original_size"`
		SizeMatched  string `json:"size_matched"`
		Price        string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode order status: %w", err)
	}

	original, _ := strconv.ParseFloat(raw.OriginalSize, 64)
	matched, _ := strconv.ParseFloat(raw.SizeMatched, 64)
	price, _ := strconv.ParseFloat(raw.Price, 64)

	return &OrderStatus{
		OrderID:       orderID,
		Status:        raw.Status,
		FilledSize:    matched,
		RemainingSize: original - matched,
		Price:         price,
	}, nil
}

func (c *ClobClient) ensureCreds(ctx context.Context) error {
	if c.apiCreds != nil {
		return nil
	}
	if _, err := c.DeriveAPICreds(ctx); err != nil {
		return fmt.Errorf("failed to get API creds: %w", err)
	}
	return nil
}

func (c *ClobClient) createSignedOrder(tokenID string, side models.OrderSide, size, price float64) (*Order, error) {
	// Round price to tick size (0.01 for most markets)
	tickSize := 0.01
	price = float64(int(price/tickSize+0.5)) * tickSize

	// Round size to 2 decimal places and enforce the exchange minimum
	size = float64(int(size*100+0.5)) / 100
	if size < 0.01 {
		size = 0.01
	}

	// Convert to base units. USDC and outcome tokens both use 6 decimals.
	// MakerAmount: what we give (USDC for buy, tokens for sell)
	// TakerAmount: what we get (tokens for buy, USDC for sell)
	sizeUnits := new(big.Float).Mul(big.NewFloat(size), big.NewFloat(1e6))
	sizeInt := new(big.Int)
	sizeUnits.Int(sizeInt)

	usdcAmount := new(big.Float).Mul(big.NewFloat(size*price), big.NewFloat(1e6))
	usdcInt := new(big.Int)
	usdcAmount.Int(usdcInt)

	var makerAmount, takerAmount *big.Int
	sideInt := 0
	if side == models.OrderSideBuy {
		makerAmount = usdcInt
		takerAmount = sizeInt
	} else {
		makerAmount = sizeInt
		takerAmount = usdcInt
		sideInt = 1
	}

	// For Magic wallets: maker = funder (where funds are), signer = key wallet.
	// For EOA wallets: maker = signer = wallet address.
	order := &Order{
		Salt:          generateSalt(),
		Maker:         c.funder.Hex(),
		Signer:        c.auth.GetAddress().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          string(side),
		SignatureType: c.signatureType,
		SideInt:       sideInt,
	}

	signature, err := c.signOrder(order)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	order.Signature = signature

	return order, nil
}

func (c *ClobClient) signOrder(order *Order) (string, error) {
	verifyingContract := "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E" // CTFExchange

	chainID := math.NewHexOrDecimal256(c.chainID)
	domain := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           chainID,
		VerifyingContract: verifyingContract,
	}

	salt := big.NewInt(order.Salt)
	tokenId := new(big.Int)
	tokenId.SetString(order.TokenID, 10)
	makerAmount := new(big.Int)
	makerAmount.SetString(order.MakerAmount, 10)
	takerAmount := new(big.Int)
	takerAmount.SetString(order.TakerAmount, 10)
	expiration := new(big.Int)
	expiration.SetString(order.Expiration, 10)
	nonce := new(big.Int)
	nonce.SetString(order.Nonce, 10)
	feeRateBps := new(big.Int)
	feeRateBps.SetString(order.FeeRateBps, 10)

	message := map[string]interface{}{
		"salt":          salt,
		"maker":         order.Maker,
		"signer":        order.Signer,
		"taker":         order.Taker,
		"tokenId":       tokenId,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    expiration,
		"nonce":         nonce,
		"feeRateBps":    feeRateBps,
		"side":          big.NewInt(int64(order.SideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, c.auth.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

func (c *ClobClient) postOrder(ctx context.Context, order *Order, orderType OrderType) (*OrderResponse, error) {
	payload := OrderRequest{
		Order:     *order,
		Owner:     c.apiCreds.APIKey,
		OrderType: orderType,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	// Browser-like headers to avoid Cloudflare blocking
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", "https://polymarket.com")
	req.Header.Set("Referer", "https://polymarket.com/")

	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post order failed: %d %s", resp.StatusCode, string(respBody))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &orderResp, nil
}

func (c *ClobClient) addL2Headers(req *http.Request) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	// L2 signature covers timestamp + method + path + body
	message := timestamp + req.Method + req.URL.Path
	if req.Body != nil {
		bodyBytes, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		message += string(bodyBytes)
	}

	signature := c.hmacSign(message, c.apiCreds.APISecret)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.auth.GetAddress().Hex())
	req.Header.Set("POLY_API_KEY", c.apiCreds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", c.apiCreds.APIPassphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", signature)
}

func (c *ClobClient) hmacSign(message string, secret string) string {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(secret)
		if err != nil {
			key = []byte(secret)
		}
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func generateSalt() int64 {
	return time.Now().UnixNano() % 1000000000
}

// CalculateOptimalFill walks the book and reports how many shares a notional
// amount buys (or sells), the average price, and the notional actually filled.
func CalculateOptimalFill(book *OrderBook, side models.OrderSide, amountUSDC float64) (totalSize float64, avgPrice float64, filledUSDC float64) {
	var levels []OrderBookLevel
	if side == models.OrderSideBuy {
		levels = book.Asks
	} else {
		levels = book.Bids
	}

	remainingUSDC := amountUSDC
	totalCost := 0.0

	for _, level := range levels {
		price, _ := strconv.ParseFloat(level.Price, 64)
		size, _ := strconv.ParseFloat(level.Size, 64)
		if price <= 0 {
			continue
		}

		levelValue := size * price
		if levelValue <= remainingUSDC {
			totalSize += size
			totalCost += levelValue
			remainingUSDC -= levelValue
		} else {
			fillSize := remainingUSDC / price
			totalSize += fillSize
			totalCost += remainingUSDC
			remainingUSDC = 0
			break
		}

		if remainingUSDC <= 0 {
			break
		}
	}

	if totalSize > 0 {
		avgPrice = totalCost / totalSize
	}
	filledUSDC = amountUSDC - remainingUSDC

	return
}
