package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"rate_rules/internal/domain"
	"rate_rules/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	maxRetries  = 10
	readTimeout = 60 * time.Second
)

// subscribeRequest is sent once per connection.
type subscribeRequest struct {
	Op    string   `json:"op"`
	Pairs []string `json:"pairs"`
}

// tickMessage is a streamed rate. Exchange defaults to the feed's exchange.
type tickMessage struct {
	Exchange string           `json:"exchange"`
	Pair     string           `json:"pair"`
	Rate     *decimal.Decimal `json:"rate"`
}

// StreamFeed keeps a websocket subscription open and forwards every tick to onTick.
type StreamFeed struct {
	exchange string
	url      string
	pairs    []domain.CurrencyPair
	onTick   func(domain.RateTick)
	metrics  *infra.Metrics

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewStreamFeed creates a streaming feed for one exchange. metrics may be nil.
func NewStreamFeed(exchange, url string, pairs []domain.CurrencyPair, onTick func(domain.RateTick), metrics *infra.Metrics) *StreamFeed {
	return &StreamFeed{
		exchange: strings.ToLower(exchange),
		url:      url,
		pairs:    pairs,
		onTick:   onTick,
		metrics:  metrics,
		logger:   slog.Default().With("module", "stream_feed", "exchange", strings.ToLower(exchange)),
	}
}

// Connect starts the connection loop in the background.
func (f *StreamFeed) Connect(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.connectionLoop(ctx)
	return nil
}

func (f *StreamFeed) connectionLoop(ctx context.Context) {
	defer f.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			f.logger.Warn("Stream connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}
		retryCount = 0
		f.readLoop(ctx)
	}
}

func (f *StreamFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, f.url, header)
	if err != nil {
		return domain.NewFeedError(f.exchange, domain.CurrencyPair{}, "dial", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.IncrementStreams()
	}

	if err := f.subscribe(); err != nil {
		f.closeConnection()
		return domain.NewFeedError(f.exchange, domain.CurrencyPair{}, "subscribe", err)
	}

	f.logger.Info("Stream connected", slog.Int("pairs", len(f.pairs)))
	return nil
}

func (f *StreamFeed) subscribe() error {
	req := subscribeRequest{Op: "subscribe", Pairs: make([]string, len(f.pairs))}
	for i, p := range f.pairs {
		req.Pairs[i] = p.String()
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return f.threadSafeWrite(websocket.TextMessage, b)
}

func (f *StreamFeed) threadSafeWrite(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.conn == nil {
		return fmt.Errorf("no conn")
	}
	return f.conn.WriteMessage(msgType, data)
}

func (f *StreamFeed) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.closeConnection()
			return
		}
		f.handleMessage(msg)
	}
}

func (f *StreamFeed) handleMessage(msg []byte) {
	tick, err := f.parseTick(msg)
	if err != nil {
		f.logger.Debug("Ignoring stream message", slog.Any("error", err))
		return
	}
	if f.onTick != nil {
		f.onTick(tick)
	}
}

func (f *StreamFeed) parseTick(msg []byte) (domain.RateTick, error) {
	var m tickMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return domain.RateTick{}, err
	}
	pair, err := domain.ParseCurrencyPair(m.Pair)
	if err != nil {
		return domain.RateTick{}, err
	}
	exchange := strings.ToLower(m.Exchange)
	if exchange == "" {
		exchange = f.exchange
	}
	if m.Rate == nil {
		return domain.RateTick{}, domain.NewFatalFeedError(exchange, pair, "decode", domain.ErrRateNotFound)
	}
	return domain.RateTick{Exchange: exchange, Pair: pair, Rate: *m.Rate}, nil
}

func (f *StreamFeed) closeConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
		if f.metrics != nil {
			f.metrics.DecrementStreams()
		}
	}
}

// Disconnect stops the connection loop and waits for it to exit.
func (f *StreamFeed) Disconnect() {
	if f.cancel != nil {
		f.cancel()
	}
	f.closeConnection()
	f.wg.Wait()
}
