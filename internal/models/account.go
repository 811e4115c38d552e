package models

import (
	"time"
)

type AccountKind string

const (
	KindUser    AccountKind = "user"
	KindPrinter AccountKind = "printer"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Presence is the live connectivity snapshot of an account: last-seen
// timestamp, the server the client is connected through, and the client's
// address/headers when known.
type Presence struct {
	UpdatedAt     time.Time         `json:"updated_at"`
	ServerID      string            `json:"server_id"`
	ClientAddress string            `json:"client_address,omitempty"`
	HTTPHeader    map[string]string `json:"http_header,omitempty"`
	Status        PresenceStatus    `json:"status"`
}

// Account is the single directory record type. A user account owns zero or
// more printers (OwnedIDs); a printer account references at most one owning
// user (OwnerID). ID and Kind never change after creation.
type Account struct {
	ID       string      `json:"id"`
	Kind     AccountKind `json:"kind"`
	Name     string      `json:"name"`
	IsAdmin  bool        `json:"is_admin,omitempty"`
	OwnerID  *string     `json:"owner_id,omitempty"`
	OwnedIDs []string    `json:"owned_ids,omitempty"`
	Presence Presence    `json:"presence"`
}

func (a *Account) IsPrinter() bool {
	return a.Kind == KindPrinter
}

// Owns reports whether the account's owned set contains printerID.
func (a *Account) Owns(printerID string) bool {
	for _, id := range a.OwnedIDs {
		if id == printerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand out accounts without
// sharing the OwnedIDs slice or header map.
func (a *Account) Clone() *Account {
	c := *a
	if a.OwnerID != nil {
		owner := *a.OwnerID
		c.OwnerID = &owner
	}
	if a.OwnedIDs != nil {
		c.OwnedIDs = append([]string(nil), a.OwnedIDs...)
	}
	if a.Presence.HTTPHeader != nil {
		c.Presence.HTTPHeader = make(map[string]string, len(a.Presence.HTTPHeader))
		for k, v := range a.Presence.HTTPHeader {
			c.Presence.HTTPHeader[k] = v
		}
	}
	return &c
}
