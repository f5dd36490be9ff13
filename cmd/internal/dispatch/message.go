package dispatch

import (
	"errors"
	"strings"

	"github.com/puse45/auth-ms/cmd/account"
)

// Purpose tags why a message is sent.
type Purpose string

const (
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

// Message is one outbound notification.
type Message struct {
	ID      string       `json:"id"`
	Kind    account.Kind `json:"kind"`
	Address string       `json:"address"`
	Subject string       `json:"subject,omitempty"`
	Body    string       `json:"body"`
	Purpose Purpose      `json:"purpose"`
}

func (m Message) validate() error {
	if !m.Kind.Valid() {
		return errors.New("dispatch: unknown channel kind")
	}
	if strings.TrimSpace(m.Address) == "" {
		return errors.New("dispatch: empty address")
	}
	if strings.TrimSpace(m.Body) == "" {
		return errors.New("dispatch: empty body")
	}
	return nil
}

// MaskAddress keeps enough of an address to correlate logs without exposing it.
func MaskAddress(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at > 0 {
		return addr[:1] + "***" + addr[at:]
	}
	if len(addr) > 4 {
		return strings.Repeat("*", len(addr)-4) + addr[len(addr)-4:]
	}
	return "****"
}
