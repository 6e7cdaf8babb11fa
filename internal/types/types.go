package types

import (
	"time"

	"github.com/DoyleJ11/outpost-link/internal/engine"
	"github.com/DoyleJ11/outpost-link/internal/link"
	"github.com/DoyleJ11/outpost-link/internal/session"
)

// ClientMessage is sent by a renderer. Type is "Action", "Key" or "SetMode".
type ClientMessage struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Key    string `json:"key,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

type ServerMessage struct {
	Type    string            `json:"type"` // "StateSnapshot" | "Log" | "Error"
	Version int               `json:"version,omitempty"`
	State   *engine.State     `json:"state,omitempty"`
	Display *engine.Point     `json:"display,omitempty"`
	Link    *LinkView         `json:"link,omitempty"`
	Entry   *session.LogEntry `json:"entry,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type LinkView struct {
	State     string       `json:"state"`
	Connected bool         `json:"connected"`
	Device    *link.Device `json:"device,omitempty"`
	Epoch     uint64       `json:"epoch"`
	Attempts  int          `json:"attempts"`
	Reason    string       `json:"reason,omitempty"`
	Since     time.Time    `json:"since"`
}

func NewLinkView(st link.Status) LinkView {
	v := LinkView{
		State:     st.State.String(),
		Connected: st.Connected(),
		Epoch:     st.Epoch,
		Attempts:  st.Attempts,
		Reason:    st.Reason(),
		Since:     st.Since,
	}
	if st.Device.Port != "" {
		dev := st.Device
		v.Device = &dev
	}
	return v
}

// FromUpdate converts a session update into its wire form.
func FromUpdate(u session.Update) ServerMessage {
	switch u.Kind {
	case session.UpdateLog:
		e := u.Entry
		return ServerMessage{Type: "Log", Version: u.Version, Entry: &e}
	case session.UpdateError:
		return ServerMessage{Type: "Error", Version: u.Version, Error: u.Error}
	default:
		st := u.State
		display := st.DisplayCrosshair()
		lv := NewLinkView(u.Link)
		return ServerMessage{Type: "StateSnapshot", Version: u.Version, State: &st, Display: &display, Link: &lv}
	}
}

// SessionView is the JSON body of GET /sessions/{code}.
type SessionView struct {
	Code     string             `json:"code"`
	Version  int                `json:"version"`
	Clients  int                `json:"clients"`
	State    engine.State       `json:"state"`
	Accuracy int                `json:"accuracy"`
	Link     LinkView           `json:"link"`
	Log      []session.LogEntry `json:"log"`
}

func NewSessionView(v session.View) SessionView {
	return SessionView{
		Code:     v.Code,
		Version:  v.Version,
		Clients:  v.NumClients,
		State:    v.State,
		Accuracy: v.State.Accuracy(),
		Link:     NewLinkView(v.Link),
		Log:      v.Log,
	}
}

type ActionRequest struct {
	Action string `json:"action"`
	Mode   string `json:"mode,omitempty"`
}
