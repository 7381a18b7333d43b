package featurestream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"RegimePulse/internal/domain/models"
	drepo "RegimePulse/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Subscription names one (symbol, timeframe) stream to follow.
type Subscription struct {
	Symbol    string
	Timeframe models.Timeframe
}

// Client implements a FeatureStream backed by the upstream feature
// service's WebSocket feed.
type Client struct {
	apiKey         string
	websocketURL   string
	subs           []Subscription
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a new WebSocket FeatureStream.
func New(apiKey, websocketURL string, subs []Subscription, reconnectDelay, pingInterval time.Duration) drepo.FeatureStream {
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		subs:           subs,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("featurestream connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("featurestream: connected")
	return nil
}

// Subscribe subscribes to the configured streams.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("featurestream not connected")
	}
	for _, sub := range c.subs {
		msg := map[string]string{
			"type":      "subscribe",
			"symbol":    sub.Symbol,
			"timeframe": string(sub.Timeframe),
		}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", sub.Symbol, sub.Timeframe, err)
		}
		log.Printf("featurestream: subscribed %s/%s", sub.Symbol, sub.Timeframe)
	}
	return nil
}

type fsBar struct {
	S  string             `json:"s"`
	TF string             `json:"tf"`
	T  int64              `json:"t"` // ms
	F  map[string]float64 `json:"f"`
	G  bool               `json:"g"`
}

type fsMessage struct {
	Type string  `json:"type"`
	Data []fsBar `json:"data"`
}

// Read streams feature bars and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.FeatureVector, <-chan error) {
	bars := make(chan *models.FeatureVector, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(bars)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("featurestream conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("featurestream read: %w", err)
					return
				}
				var m fsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-bar frames
					continue
				}
				if m.Type != "bar" {
					continue
				}
				for _, d := range m.Data {
					tf, err := models.ParseTimeframe(d.TF)
					if err != nil {
						continue
					}
					fv, err := models.NewFeatureVector(d.S, time.UnixMilli(d.T).UTC(), tf, d.F, d.G)
					if err != nil {
						continue
					}
					select {
					case bars <- fv:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return bars, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
