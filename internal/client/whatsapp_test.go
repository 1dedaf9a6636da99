package client

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

type fakeMessenger struct {
	connected bool
	loggedIn  bool
	err       error

	to   types.JID
	text string
}

func (f *fakeMessenger) IsConnected() bool { return f.connected }
func (f *fakeMessenger) IsLoggedIn() bool  { return f.loggedIn }

func (f *fakeMessenger) SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.to = to
	f.text = message.GetConversation()
	if f.err != nil {
		return whatsmeow.SendResponse{}, f.err
	}
	return whatsmeow.SendResponse{ID: "3EB0ABC"}, nil
}

func TestWhatsAppClient_Send(t *testing.T) {
	wa := &fakeMessenger{connected: true, loggedIn: true}
	c := newWhatsAppClient(wa, "91", zerolog.Nop())

	id, err := c.Send(context.Background(), "98765 43210", "hello")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if id != "3EB0ABC" {
		t.Fatalf("expected message id 3EB0ABC, got %q", id)
	}
	if wa.to.User != "919876543210" || wa.to.Server != types.DefaultUserServer {
		t.Fatalf("unexpected jid: %v", wa.to)
	}
	if wa.text != "hello" {
		t.Fatalf("expected text hello, got %q", wa.text)
	}
}

func TestWhatsAppClient_UnavailableWhenNotReady(t *testing.T) {
	for name, wa := range map[string]*fakeMessenger{
		"not linked":    {connected: true, loggedIn: false},
		"not connected": {connected: false, loggedIn: true},
	} {
		c := newWhatsAppClient(wa, "", zerolog.Nop())
		if _, err := c.Send(context.Background(), "15550001", "hi"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("%s: expected ErrUnavailable, got %v", name, err)
		}
		if c.Connected() {
			t.Fatalf("%s: expected Connected() false", name)
		}
	}
}

func TestWhatsAppClient_RejectsNonPhoneAddress(t *testing.T) {
	wa := &fakeMessenger{connected: true, loggedIn: true}
	c := newWhatsAppClient(wa, "", zerolog.Nop())

	_, err := c.Send(context.Background(), "john@example.com", "hi")
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected a delivery failure, got %v", err)
	}
}

func TestWhatsAppClient_SendErrorIsDeliveryFailure(t *testing.T) {
	wa := &fakeMessenger{connected: true, loggedIn: true, err: errors.New("server returned 463")}
	c := newWhatsAppClient(wa, "", zerolog.Nop())

	_, err := c.Send(context.Background(), "15550001234", "hi")
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected a delivery failure, got %v", err)
	}
}
