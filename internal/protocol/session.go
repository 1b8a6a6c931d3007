// Package protocol wraps go.mau.fi/whatsmeow behind a neutral session
// interface. It exists so the Connection Pool never touches whatsmeow
// types directly — only the CloseCause/EventKind vocabulary this
// package translates real protocol events into.
package protocol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"waconnect/pkg/logger"
)

// EventKind is the neutral vocabulary the Pool's ingestion dispatcher
// switches on, generalized from whatsmeow's concrete *events.X types.
type EventKind string

const (
	EventQRCode         EventKind = "qr_code"
	EventPairSuccess    EventKind = "pair_success"
	EventPairError      EventKind = "pair_error"
	EventConnected      EventKind = "connected"
	EventDisconnected   EventKind = "disconnected"
	EventLoggedOut      EventKind = "logged_out"
	EventStreamReplaced EventKind = "stream_replaced"
	EventHistorySync    EventKind = "history_sync"
	EventMessage        EventKind = "message"
	EventReceipt        EventKind = "receipt"
	EventPresence       EventKind = "presence"
	EventOther          EventKind = "other"
)

// Event is the neutral envelope the Pool consumes, carrying only what
// it needs to drive the phase machine — never a whatsmeow type.
type Event struct {
	Kind      EventKind
	QRCode    string
	WaJID     string
	Error     error
	Timestamp time.Time
	Raw       any

	// HistoryContacts, HistoryMessages and IsLatest are populated only
	// for EventHistorySync, carrying this batch's counts and whether it
	// is the final batch of the import.
	HistoryContacts int
	HistoryMessages int
	IsLatest        bool
}

// CloseCause is the spec's close-cause vocabulary, resolved from a
// whatsmeow Disconnected/StreamReplaced/LoggedOut event by
// ClassifyClose.
type CloseCause string

const (
	CauseRestartRequired CloseCause = "restartRequired"
	CauseLoggedOut       CloseCause = "loggedOut"
	CauseReplaced        CloseCause = "connectionReplaced"
	CauseOther           CloseCause = "other"
)

// ClassifyClose maps a neutral Event carrying a disconnect signal onto
// the spec's close-cause vocabulary. whatsmeow has no Baileys-style
// numeric close codes; this is the adapter boundary documented in
// DESIGN.md's Open Question resolutions. handshakeCompleted is true
// once the session has reached Connected at least once before.
func ClassifyClose(evt Event, handshakeCompleted bool) CloseCause {
	switch evt.Kind {
	case EventStreamReplaced:
		return CauseReplaced
	case EventLoggedOut:
		return CauseLoggedOut
	case EventDisconnected:
		if !handshakeCompleted {
			return CauseRestartRequired
		}
		return CauseOther
	default:
		return CauseOther
	}
}

// Session is the interface the Pool drives. *Client implements it.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	PairPhone(ctx context.Context, phone string) (string, error)
	GetQRChannel(ctx context.Context) (<-chan Event, error)
	Events() <-chan Event
	SendText(ctx context.Context, to, text string) (string, error)
	Close()
}

// Client adapts a *whatsmeow.Client into the Session interface,
// translating its callback-based event handler into a buffered
// channel of neutral Events — grounded on the teacher's
// ConnectionManager/QRCodeManager/EventProcessor trio
// (internal/infra/whatsapp/connection/manager.go,
// internal/infra/whatsapp/connection/qr_code.go), collapsed into one
// adapter per session instead of three cooperating singletons.
type Client struct {
	wa        *whatsmeow.Client
	log       logger.Logger
	events    chan Event
	handlerID uint32
}

// NewClient wraps a device store into a whatsmeow client and starts
// forwarding its events as neutral Events on a buffered channel.
func NewClient(deviceStore *store.Device, log logger.Logger) *Client {
	waLog := logger.NewWhatsAppLoggerAdapter(log)
	wa := whatsmeow.NewClient(deviceStore, waLogAdapter{waLog})

	c := &Client{
		wa:     wa,
		log:    log.WithComponent("protocol"),
		events: make(chan Event, 64),
	}
	c.handlerID = wa.AddEventHandler(c.dispatch)
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	return c.wa.Connect()
}

func (c *Client) Disconnect() {
	c.wa.Disconnect()
}

func (c *Client) IsConnected() bool { return c.wa.IsConnected() }
func (c *Client) IsLoggedIn() bool { return c.wa.IsLoggedIn() }

func (c *Client) PairPhone(ctx context.Context, phone string) (string, error) {
	code, err := c.wa.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("pair phone: %w", err)
	}
	return code, nil
}

func (c *Client) GetQRChannel(ctx context.Context) (<-chan Event, error) {
	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get qr channel: %w", err)
	}
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		for item := range qrChan {
			switch item.Event {
			case "code":
				out <- Event{Kind: EventQRCode, QRCode: item.Code, Timestamp: time.Now()}
			case "success":
				out <- Event{Kind: EventPairSuccess, Timestamp: time.Now()}
			case "timeout":
				out <- Event{Kind: EventPairError, Error: fmt.Errorf("qr code expired"), Timestamp: time.Now()}
			case "error":
				out <- Event{Kind: EventPairError, Error: item.Error, Timestamp: time.Now()}
			}
		}
	}()
	return out, nil
}

func (c *Client) Events() <-chan Event { return c.events }

// SendText delivers a plain-text message and returns the
// protocol-assigned message id, grounded on the teacher's
// SendTextMessage (internal/infra/whatsapp/core/client.go) collapsed to
// the Conversation-only payload the egress primitive needs — richer
// content types are the out-of-scope message-content schema.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	jid, err := toJID(to)
	if err != nil {
		return "", fmt.Errorf("parse recipient jid: %w", err)
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	resp, err := c.wa.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// toJID accepts either a full JID string or a bare E.164 phone number,
// the latter rendered against whatsmeow's default user server.
func toJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		return types.ParseJID(to)
	}
	return types.NewJID(to, types.DefaultUserServer), nil
}

func (c *Client) Close() {
	if c.handlerID != 0 {
		c.wa.RemoveEventHandler(c.handlerID)
	}
	close(c.events)
}

// dispatch classifies a raw whatsmeow event and forwards a neutral
// Event, grounded on internal/infra/whatsapp/events/processor.go's
// type-switch dispatch pattern.
func (c *Client) dispatch(raw any) {
	now := time.Now()
	var evt Event
	switch v := raw.(type) {
	case *events.Connected:
		evt = Event{Kind: EventConnected, Timestamp: now, Raw: v}
	case *events.Disconnected:
		evt = Event{Kind: EventDisconnected, Timestamp: now, Raw: v}
	case *events.LoggedOut:
		evt = Event{Kind: EventLoggedOut, Timestamp: now, Raw: v}
	case *events.StreamReplaced:
		evt = Event{Kind: EventStreamReplaced, Timestamp: now, Raw: v}
	case *events.PairSuccess:
		jid := v.ID.String()
		evt = Event{Kind: EventPairSuccess, WaJID: jid, Timestamp: now, Raw: v}
	case *events.PairError:
		evt = Event{Kind: EventPairError, Error: v.Error, Timestamp: now, Raw: v}
	case *events.HistorySync:
		contacts, messages, isLatest := historySyncCounts(v)
		evt = Event{Kind: EventHistorySync, Timestamp: now, Raw: v, HistoryContacts: contacts, HistoryMessages: messages, IsLatest: isLatest}
	case *events.Message:
		evt = Event{Kind: EventMessage, Timestamp: now, Raw: v}
	case *events.Receipt:
		evt = Event{Kind: EventReceipt, Timestamp: now, Raw: v}
	case *events.Presence:
		evt = Event{Kind: EventPresence, Timestamp: now, Raw: v}
	default:
		evt = Event{Kind: EventOther, Timestamp: now, Raw: v}
	}

	select {
	case c.events <- evt:
	default:
		c.log.Warn().Str("kind", string(evt.Kind)).Msg("protocol event channel full, dropping event")
	}
}

// historySyncCounts reads the contact and message counts out of a raw
// whatsmeow HistorySync batch and reports whether the vendor marked it
// the final batch of the import (progress reaching 100%).
func historySyncCounts(evt *events.HistorySync) (contacts, messages int, isLatest bool) {
	data := evt.Data
	if data == nil {
		return 0, 0, false
	}
	contacts = len(data.GetPushnames())
	for _, conv := range data.GetConversations() {
		messages += len(conv.GetMessages())
	}
	isLatest = data.GetProgress() >= 100
	return contacts, messages, isLatest
}

// waLogAdapter satisfies waLog.Logger using our own
// WhatsAppLoggerInterface. The teacher's equivalent adapter declared
// Sub to return its own interface type instead of waLog.Logger, which
// whatsmeow's client never actually accepted (its NewClient call sites
// all pass nil with a "fix logger compatibility" TODO) — Sub here
// returns the real waLog.Logger so the adapter is actually wired in.
type waLogAdapter struct {
	inner logger.WhatsAppLoggerInterface
}

func (a waLogAdapter) Warnf(msg string, args ...interface{})  { a.inner.Warnf(msg, args...) }
func (a waLogAdapter) Errorf(msg string, args ...interface{}) { a.inner.Errorf(msg, args...) }
func (a waLogAdapter) Infof(msg string, args ...interface{})  { a.inner.Infof(msg, args...) }
func (a waLogAdapter) Debugf(msg string, args ...interface{}) { a.inner.Debugf(msg, args...) }
func (a waLogAdapter) Sub(mod string) waLog.Logger            { return waLogAdapter{a.inner.Sub(mod)} }
