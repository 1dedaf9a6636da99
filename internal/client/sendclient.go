// Package client delivers message bodies to addresses over the configured
// channels.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable means the channel could not attempt delivery at all, for
// example because it is not configured or not connected. A Chain moves on to
// its next channel only for this error.
var ErrUnavailable = errors.New("delivery channel unavailable")

// SendClient delivers body to address and returns the channel's message id.
type SendClient interface {
	Send(ctx context.Context, address, body string) (string, error)
}

type Chain struct {
	clients []SendClient
}

// NewChain tries clients in order. Nil entries are skipped.
func NewChain(clients ...SendClient) *Chain {
	c := &Chain{}
	for _, cl := range clients {
		if cl != nil {
			c.clients = append(c.clients, cl)
		}
	}
	return c
}

func (c *Chain) Send(ctx context.Context, address, body string) (string, error) {
	var reasons []string
	for _, cl := range c.clients {
		id, err := cl.Send(ctx, address, body)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return "", err
		}
		reasons = append(reasons, err.Error())
	}
	if len(reasons) == 0 {
		return "", fmt.Errorf("%w: no channel configured", ErrUnavailable)
	}
	return "", fmt.Errorf("%w: %s", ErrUnavailable, strings.Join(reasons, "; "))
}
