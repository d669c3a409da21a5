package exchange

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/schema"
)

// Wire topics used by the stream feed.
const (
	topicOrderbook = "orderbook"
	topicExecution = "execution"
	topicPosition  = "position"

	bookTypeSnapshot = "snapshot"
	bookTypeDelta    = "delta"
)

// wireMessage is the venue-neutral JSON envelope carried on the stream.
// Prices and quantities travel as strings and are parsed into decimals at
// this boundary only.
type wireMessage struct {
	Topic  string     `json:"topic"`
	Type   string     `json:"type,omitempty"`
	Symbol string     `json:"symbol"`
	Seq    uint64     `json:"updateId,omitempty"`
	Bids   [][]string `json:"bids,omitempty"`
	Asks   [][]string `json:"asks,omitempty"`
	TsMs   int64      `json:"ts"`

	ClientOrderID string `json:"clientOrderId,omitempty"`
	Side          string `json:"side,omitempty"`
	FillQty       string `json:"fillQty,omitempty"`
	FillPrice     string `json:"fillPrice,omitempty"`
	FeeAmount     string `json:"feeAmount,omitempty"`

	Size          string `json:"size,omitempty"`
	EntryPrice    string `json:"entryPrice,omitempty"`
	UnrealizedPnl string `json:"unrealisedPnl,omitempty"`
}

type subscribeCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// DecodeEvent parses one raw stream frame into a canonical event.
func DecodeEvent(raw []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, errs.New("stream", errs.CodeInvalid,
			errs.WithMessage("malformed stream frame"), errs.WithCause(err))
	}

	ts := time.UnixMilli(msg.TsMs)
	switch msg.Topic {
	case topicOrderbook:
		bids, err := parseLevels(msg.Bids)
		if err != nil {
			return Event{}, err
		}
		asks, err := parseLevels(msg.Asks)
		if err != nil {
			return Event{}, err
		}
		if msg.Type == bookTypeSnapshot {
			return Event{Kind: KindBookSnapshot, Snapshot: &schema.BookSnapshot{
				Symbol: msg.Symbol, Bids: bids, Asks: asks, UpdateID: msg.Seq, Timestamp: ts,
			}}, nil
		}
		return Event{Kind: KindBookDelta, Delta: &schema.BookDelta{
			Symbol: msg.Symbol, Bids: bids, Asks: asks, UpdateID: msg.Seq, Timestamp: ts,
		}}, nil

	case topicExecution:
		qty, err := parseDecimal(msg.FillQty)
		if err != nil {
			return Event{}, err
		}
		price, err := parseDecimal(msg.FillPrice)
		if err != nil {
			return Event{}, err
		}
		fee := decimal.Zero
		if msg.FeeAmount != "" {
			if fee, err = parseDecimal(msg.FeeAmount); err != nil {
				return Event{}, err
			}
		}
		return Event{Kind: KindFill, Fill: &schema.Fill{
			Symbol:        msg.Symbol,
			ClientOrderID: msg.ClientOrderID,
			Side:          schema.Side(msg.Side),
			FilledQty:     qty,
			FillPrice:     price,
			FeeAmount:     fee,
			Timestamp:     ts,
		}}, nil

	case topicPosition:
		size, err := parseDecimal(msg.Size)
		if err != nil {
			return Event{}, err
		}
		entry, err := parseDecimal(msg.EntryPrice)
		if err != nil {
			return Event{}, err
		}
		upnl := decimal.Zero
		if msg.UnrealizedPnl != "" {
			if upnl, err = parseDecimal(msg.UnrealizedPnl); err != nil {
				return Event{}, err
			}
		}
		return Event{Kind: KindPosition, Position: &schema.PositionUpdate{
			Symbol:        msg.Symbol,
			Size:          size,
			Side:          schema.Side(msg.Side),
			AvgEntryPrice: entry,
			UnrealizedPnl: upnl,
			Timestamp:     ts,
		}}, nil

	default:
		return Event{}, errs.New("stream", errs.CodeInvalid,
			errs.WithMessage("unknown stream topic "+msg.Topic))
	}
}

func parseLevels(raw [][]string) ([]schema.LevelUpdate, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]schema.LevelUpdate, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, errs.New("stream", errs.CodeInvalid, errs.WithMessage("level must be [price, qty]"))
		}
		price, err := parseDecimal(pair[0])
		if err != nil {
			return nil, err
		}
		qty := decimal.Zero
		if pair[1] != "" {
			if qty, err = parseDecimal(pair[1]); err != nil {
				return nil, err
			}
		}
		out = append(out, schema.LevelUpdate{Price: price, Quantity: qty})
	}
	return out, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errs.New("stream", errs.CodeInvalid,
			errs.WithMessage("malformed decimal "+s), errs.WithCause(err))
	}
	return d, nil
}
