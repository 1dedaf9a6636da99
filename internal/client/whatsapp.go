package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// messenger is the part of *whatsmeow.Client used for delivery.
type messenger interface {
	IsConnected() bool
	IsLoggedIn() bool
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// WhatsAppClient sends plain text messages from a linked WhatsApp device.
type WhatsAppClient struct {
	wa          messenger
	countryCode string
	log         zerolog.Logger

	raw *whatsmeow.Client
	db  *sql.DB
}

type WhatsAppConfig struct {
	StorePath   string
	CountryCode string
	// QROut receives the pairing QR code when the device is not linked yet.
	QROut io.Writer
}

// OpenWhatsApp loads (or creates) the device session stored at
// cfg.StorePath and connects. An unlinked device prints a pairing QR code to
// cfg.QROut; sends fail with ErrUnavailable until pairing completes.
func OpenWhatsApp(ctx context.Context, cfg WhatsAppConfig, log zerolog.Logger) (*WhatsAppClient, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("whatsapp store path is required")
	}
	if dir := filepath.Dir(cfg.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create whatsapp store dir: %w", err)
		}
	}
	if cfg.QROut == nil {
		cfg.QROut = os.Stdout
	}

	db, err := sql.Open("sqlite3", cfg.StorePath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open whatsapp store: %w", err)
	}

	waLogger := NewWALogger(log.With().Str("component", "whatsapp").Logger())
	container := sqlstore.NewWithDB(db, "sqlite3", waLogger.Sub("store"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade whatsapp store: %w", err)
	}

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}
	device := container.NewDevice()
	if len(devices) > 0 {
		device = devices[0]
	}

	raw := whatsmeow.NewClient(device, waLogger.Sub("client"))
	raw.EnableAutoReconnect = true

	c := &WhatsAppClient{
		wa:          raw,
		countryCode: cfg.CountryCode,
		log:         log,
		raw:         raw,
		db:          db,
	}

	if device.ID == nil {
		qrChan, err := raw.GetQRChannel(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("whatsapp qr channel: %w", err)
		}
		go c.renderQR(qrChan, cfg.QROut)
	}

	if err := raw.Connect(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("whatsapp connect: %w", err)
	}
	return c, nil
}

func newWhatsAppClient(wa messenger, countryCode string, log zerolog.Logger) *WhatsAppClient {
	return &WhatsAppClient{wa: wa, countryCode: countryCode, log: log}
}

func (c *WhatsAppClient) renderQR(qrChan <-chan whatsmeow.QRChannelItem, out io.Writer) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			qr, err := qrcode.New(item.Code, qrcode.Medium)
			if err != nil {
				c.log.Error().Err(err).Msg("render pairing qr")
				fmt.Fprintln(out, "QR code content:", item.Code)
				continue
			}
			fmt.Fprintln(out, "Scan with WhatsApp (Linked Devices):")
			fmt.Fprintln(out, qr.ToSmallString(false))
		case "success":
			c.log.Info().Msg("whatsapp device paired")
			return
		case "timeout":
			c.log.Warn().Msg("whatsapp pairing timed out; restart to get a new code")
			return
		case "error":
			c.log.Error().Err(item.Error).Msg("whatsapp pairing failed")
			return
		}
	}
}

func (c *WhatsAppClient) Send(ctx context.Context, address, body string) (string, error) {
	if c.wa == nil || !c.wa.IsLoggedIn() {
		return "", fmt.Errorf("%w: whatsapp device not linked", ErrUnavailable)
	}
	if !c.wa.IsConnected() {
		return "", fmt.Errorf("%w: whatsapp not connected", ErrUnavailable)
	}

	digits := NormalizePhone(address, c.countryCode)
	if !isDigits(digits) {
		return "", fmt.Errorf("invalid phone address %q", address)
	}

	jid := types.NewJID(digits, types.DefaultUserServer)
	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	return resp.ID, nil
}

// Connected reports whether the linked device currently has a live session.
func (c *WhatsAppClient) Connected() bool {
	return c.wa != nil && c.wa.IsLoggedIn() && c.wa.IsConnected()
}

func (c *WhatsAppClient) Close() error {
	if c.raw != nil {
		c.raw.Disconnect()
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// waLogger routes whatsmeow's printf-style logging into zerolog.
type waLogger struct {
	l zerolog.Logger
}

func NewWALogger(l zerolog.Logger) waLog.Logger {
	return waLogger{l: l}
}

func (w waLogger) Debugf(msg string, args ...interface{}) { w.l.Debug().Msgf(msg, args...) }
func (w waLogger) Infof(msg string, args ...interface{})  { w.l.Info().Msgf(msg, args...) }
func (w waLogger) Warnf(msg string, args ...interface{})  { w.l.Warn().Msgf(msg, args...) }
func (w waLogger) Errorf(msg string, args ...interface{}) { w.l.Error().Msgf(msg, args...) }

func (w waLogger) Sub(module string) waLog.Logger {
	return waLogger{l: w.l.With().Str("module", module).Logger()}
}
