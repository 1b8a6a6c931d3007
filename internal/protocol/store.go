package protocol

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"waconnect/pkg/logger"
)

// DeviceStore wraps the whatsmeow sqlstore.Container that backs every
// session's credential blob, grounded on
// internal/infra/whatsapp/session/manager.go's SessionManager.container
// field.
type DeviceStore struct {
	container *sqlstore.Container
}

func NewDeviceStore(ctx context.Context, dsn string, log logger.Logger) (*DeviceStore, error) {
	waLog := logger.NewWhatsAppLoggerAdapter(log.WithComponent("devicestore"))
	container, err := sqlstore.New(ctx, "postgres", dsn, waLogAdapter{waLog})
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return &DeviceStore{container: container}, nil
}

// NewDevice allocates a fresh, unauthenticated device for first-time
// pairing.
func (d *DeviceStore) NewDevice() *store.Device {
	return d.container.NewDevice()
}

// GetDevice loads an existing device by JID, e.g. when recovering a
// session that previously completed pairing.
func (d *DeviceStore) GetDevice(ctx context.Context, jid types.JID) (*store.Device, error) {
	dev, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", jid, err)
	}
	return dev, nil
}

// ParseJID is a thin re-export so callers outside this package never
// import whatsmeow/types directly.
func ParseJID(s string) (types.JID, error) {
	return types.ParseJID(s)
}
