package polymarket

// stream.go implements ports.PublicStream and ports.UserStream over the
// venue's two WebSocket channels, using gorilla/websocket with a
// reconnect-with-backoff loop for each.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/pmmaker/internal/book"
	"github.com/alejandrodnm/pmmaker/internal/domain"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsReconnectBase  = 1 * time.Second
	wsReconnectMax   = 30 * time.Second
	wsHandshakeLimit = 15 * time.Second

	// maxReconnectAttempts bounds how many consecutive drops a stream will
	// absorb before giving up; a connection that stays up at least
	// reconnectResetAfter resets the counter, so a flaky-then-stable venue
	// never gets stuck near the budget.
	maxReconnectAttempts = 10
	reconnectResetAfter  = 2 * time.Minute
)

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsBookMessage struct {
	EventType string    `json:"event_type"`
	AssetID   string    `json:"asset_id"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
}

type wsPriceChangeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
}

type wsLastTradeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
}

type wsSubscribeMsg struct {
	Type     string   `json:"type"`
	Markets  []string `json:"markets,omitempty"`
	AssetIDs []string `json:"assets_ids,omitempty"`
	Auth     *wsAuth  `json:"auth,omitempty"`
}

type wsAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type wsMakerOrder struct {
	OrderID string `json:"order_id"`
}

type wsTradeMessage struct {
	EventType   string         `json:"event_type"`
	ID          string         `json:"id"`
	AssetID     string         `json:"asset_id"`
	Price       string         `json:"price"`
	Size        string         `json:"size"`
	Side        string         `json:"side"`
	Status      string         `json:"status"`
	MakerOrders []wsMakerOrder `json:"maker_orders"`
}

// dial opens a WS connection with a bounded handshake and keepalive
// ping/pong, matching the reconnect posture the rest of the pack uses
// for this venue's feed.
func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeLimit}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	return conn, nil
}

func pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func backoff(attempt int) time.Duration {
	d := wsReconnectBase << uint(attempt)
	if d > wsReconnectMax || d <= 0 {
		return wsReconnectMax
	}
	return d
}

func parseWSFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// PublicStreamer implements ports.PublicStream over the market channel.
type PublicStreamer struct {
	wsBase string
	log    *slog.Logger
}

// NewPublicStreamer builds a PublicStreamer against wsBase (the shared
// venue WebSocket root, e.g. wss://ws-subscriptions-clob.polymarket.com/ws).
func NewPublicStreamer(wsBase string, log *slog.Logger) *PublicStreamer {
	if log == nil {
		log = slog.Default()
	}
	return &PublicStreamer{wsBase: wsBase, log: log}
}

// Run subscribes to book, price_change and last_trade_price for both
// legs of market and streams them onto updates/trades until ctx is
// cancelled, reconnecting with exponential backoff on drop.
func (p *PublicStreamer) Run(ctx context.Context, market domain.Market, updates chan<- book.Update, trades chan<- domain.TradeTick) error {
	defer close(updates)
	defer close(trades)

	assetIDs := []string{market.YesTokenID, market.NoTokenID}
	assetSide := map[string]domain.Side{
		market.YesTokenID: domain.Yes,
		market.NoTokenID:  domain.No,
	}

	attempt := 0
	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connStart := time.Now()
		err := p.runOnce(ctx, assetIDs, assetSide, updates, trades)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(connStart) >= reconnectResetAfter {
			failures = 0
			attempt = 0
		}
		if err != nil {
			failures++
			p.log.Warn("public stream dropped, reconnecting", "err", err, "attempt", failures)
			if failures >= maxReconnectAttempts {
				return fmt.Errorf("public stream: %w", domain.ErrStreamExhausted)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
		attempt++
		if attempt > 6 {
			attempt = 6
		}
	}
}

func (p *PublicStreamer) runOnce(ctx context.Context, assetIDs []string, assetSide map[string]domain.Side, updates chan<- book.Update, trades chan<- domain.TradeTick) error {
	conn, err := dial(ctx, p.wsBase+"/market")
	if err != nil {
		return fmt.Errorf("dial market ws: %w", err)
	}
	defer conn.Close()

	sub := wsSubscribeMsg{Type: "market", AssetIDs: assetIDs}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go pingLoop(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var envelope struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}

		switch envelope.EventType {
		case "book":
			var m wsBookMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			side, ok := assetSide[m.AssetID]
			if !ok {
				continue
			}
			updates <- book.Update{
				Kind: book.Snapshot,
				Side: side,
				TS:   time.Now(),
				Bids: toBookLevels(m.Bids),
				Asks: toBookLevels(m.Asks),
			}
		case "price_change":
			var m wsPriceChangeMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			side, ok := assetSide[m.AssetID]
			if !ok {
				continue
			}
			updates <- book.Update{
				Kind:  book.Delta,
				Side:  side,
				TS:    time.Now(),
				Level: domain.BookLevel{Price: parseWSFloat(m.Price), Size: parseWSFloat(m.Size)},
				IsBid: m.Side == "BUY",
			}
		case "last_trade_price":
			var m wsLastTradeMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			side, ok := assetSide[m.AssetID]
			if !ok {
				continue
			}
			taker := domain.TakerBuy
			if m.Side == "SELL" {
				taker = domain.TakerSell
			}
			trades <- domain.TradeTick{
				Side:      side,
				TakerSide: taker,
				Size:      parseWSFloat(m.Size),
				TS:        time.Now(),
			}
		}
	}
}

func toBookLevels(raw []wsLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, len(raw))
	for i, l := range raw {
		out[i] = domain.BookLevel{Price: parseWSFloat(l.Price), Size: parseWSFloat(l.Size)}
	}
	return out
}

// UserStreamer implements ports.UserStream over the authenticated user
// channel, using a signer's derived API credentials to subscribe.
type UserStreamer struct {
	wsBase string
	signer *signer
	log    *slog.Logger
}

// NewUserStreamer builds a UserStreamer. The signer must have creds
// derivable (EnsureCreds is called before the first subscribe).
func NewUserStreamer(wsBase string, s *signer, log *slog.Logger) *UserStreamer {
	if log == nil {
		log = slog.Default()
	}
	return &UserStreamer{wsBase: wsBase, signer: s, log: log}
}

// Run streams fill notifications for market until ctx is cancelled,
// reconnecting with exponential backoff on drop.
func (u *UserStreamer) Run(ctx context.Context, market domain.Market, fills chan<- domain.FillEvent) error {
	defer close(fills)

	if err := u.signer.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("user stream: creds: %w", err)
	}

	attempt := 0
	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connStart := time.Now()
		err := u.runOnce(ctx, market, fills)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(connStart) >= reconnectResetAfter {
			failures = 0
			attempt = 0
		}
		if err != nil {
			failures++
			u.log.Warn("user stream dropped, reconnecting", "err", err, "attempt", failures)
			if failures >= maxReconnectAttempts {
				return fmt.Errorf("user stream: %w", domain.ErrStreamExhausted)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
		attempt++
		if attempt > 6 {
			attempt = 6
		}
	}
}

func (u *UserStreamer) runOnce(ctx context.Context, market domain.Market, fills chan<- domain.FillEvent) error {
	conn, err := dial(ctx, u.wsBase+"/user")
	if err != nil {
		return fmt.Errorf("dial user ws: %w", err)
	}
	defer conn.Close()

	sub := wsSubscribeMsg{
		Type:    "user",
		Markets: []string{market.ConditionID},
		Auth: &wsAuth{
			APIKey:     u.signer.creds.APIKey,
			Secret:     u.signer.creds.Secret,
			Passphrase: u.signer.creds.Passphrase,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go pingLoop(ctx, conn, done)

	tokenSide := map[string]domain.Side{
		market.YesTokenID: domain.Yes,
		market.NoTokenID:  domain.No,
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var envelope struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if envelope.EventType != "trade" {
			continue
		}

		var m wsTradeMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		side, ok := tokenSide[m.AssetID]
		if !ok {
			continue
		}
		if len(m.MakerOrders) == 0 {
			continue
		}

		fills <- domain.FillEvent{
			TradeID:      m.ID,
			MakerOrderID: m.MakerOrders[0].OrderID,
			Side:         side,
			Price:        parseWSFloat(m.Price),
			Size:         parseWSFloat(m.Size),
			Status:       parseFillStatus(m.Status),
			TS:           time.Now(),
		}
	}
}

func parseFillStatus(s string) domain.FillStatus {
	switch s {
	case "MATCHED":
		return domain.FillMatched
	case "CONFIRMED":
		return domain.FillConfirmed
	case "FAILED", "RETRYING":
		return domain.FillFailed
	default:
		return domain.FillMatched
	}
}
