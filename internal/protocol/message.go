// Package protocol owns the board's line grammar: inbound message variants,
// the total Parse function, and outbound command encoding.
//
// Dialect v1 is the coordinate-bearing form (SHIP/RESULT/CROSSHAIR with
// positions) plus storm messages and the legacy button tokens.
package protocol

import "errors"

var (
	ErrBadNumber    = errors.New("protocol: field is not an integer")
	ErrMissingField = errors.New("protocol: missing required field")
	ErrExtraField   = errors.New("protocol: unexpected extra field")
	ErrBadClass     = errors.New("protocol: ship class must be 10, 20 or 30")
	ErrBadFlag      = errors.New("protocol: flag must be 0 or 1")
	ErrBadResult    = errors.New("protocol: result must be HIT or MISS")
)

type Kind string

const (
	KindTimeSync       Kind = "TimeSync"
	KindShipSpawn      Kind = "ShipSpawn"
	KindShotHit        Kind = "ShotHit"
	KindShotMiss       Kind = "ShotMiss"
	KindCrosshair      Kind = "Crosshair"
	KindLock           Kind = "Lock"
	KindStormStarted   Kind = "StormStarted"
	KindStormEnded     Kind = "StormEnded"
	KindStormOffset    Kind = "StormOffset"
	KindStormAmplitude Kind = "StormAmplitude"
	KindButton         Kind = "Button"
	KindMiddleClickAt  Kind = "MiddleClickAt"
	KindStatus         Kind = "Status"
	KindLog            Kind = "Log"
	KindDeviceError    Kind = "DeviceError"
	KindUnrecognized   Kind = "Unrecognized"
	KindMalformed      Kind = "Malformed"
)

// Message is one decoded inbound line. The set of implementations is closed.
type Message interface {
	Kind() Kind
	isMessage()
}

type TimeSync struct {
	Seconds int
}

type ShipSpawn struct {
	Class int
	X     int
	Y     int
	HasY  bool
}

type ShotHit struct {
	Points int
	X      int
	Y      int
	HasPos bool
}

type ShotMiss struct {
	X      int
	Y      int
	HasPos bool
}

type Crosshair struct {
	X         int
	Y         int
	HasY      bool
	Locked    bool
	HasLocked bool
}

// Lock is the board's LOCK:<0|1> notification.
type Lock struct {
	Locked bool
}

type StormStarted struct{}

type StormEnded struct{}

type StormOffset struct {
	X int
	Y int
}

type StormAmplitude struct {
	X int
	Y int
}

type ButtonEvent string

const (
	LeftPress    ButtonEvent = "LEFT_PRESS"
	LeftRelease  ButtonEvent = "LEFT_RELEASE"
	RightPress   ButtonEvent = "RIGHT_PRESS"
	RightRelease ButtonEvent = "RIGHT_RELEASE"
	MiddleClick1 ButtonEvent = "MIDDLE_CLICK_1"
	MiddleClick2 ButtonEvent = "MIDDLE_CLICK_2"
)

type Button struct {
	Event ButtonEvent
}

type MiddleClickAt struct {
	X int
	Y int
}

type Status struct {
	Payload string
}

type Log struct {
	Text string
}

// DeviceError is an application level ERROR: line. It is not a link failure.
type DeviceError struct {
	Text string
}

// Unrecognized carries a line whose dispatch token is unknown, verbatim.
type Unrecognized struct {
	Line string
}

// Malformed carries a line with a known token whose fields failed to parse.
type Malformed struct {
	Line string
	Err  error
}

func (TimeSync) Kind() Kind       { return KindTimeSync }
func (ShipSpawn) Kind() Kind      { return KindShipSpawn }
func (ShotHit) Kind() Kind        { return KindShotHit }
func (ShotMiss) Kind() Kind       { return KindShotMiss }
func (Crosshair) Kind() Kind      { return KindCrosshair }
func (Lock) Kind() Kind           { return KindLock }
func (StormStarted) Kind() Kind   { return KindStormStarted }
func (StormEnded) Kind() Kind     { return KindStormEnded }
func (StormOffset) Kind() Kind    { return KindStormOffset }
func (StormAmplitude) Kind() Kind { return KindStormAmplitude }
func (Button) Kind() Kind         { return KindButton }
func (MiddleClickAt) Kind() Kind  { return KindMiddleClickAt }
func (Status) Kind() Kind         { return KindStatus }
func (Log) Kind() Kind            { return KindLog }
func (DeviceError) Kind() Kind    { return KindDeviceError }
func (Unrecognized) Kind() Kind   { return KindUnrecognized }
func (Malformed) Kind() Kind      { return KindMalformed }

func (TimeSync) isMessage()       {}
func (ShipSpawn) isMessage()      {}
func (ShotHit) isMessage()        {}
func (ShotMiss) isMessage()       {}
func (Crosshair) isMessage()      {}
func (Lock) isMessage()           {}
func (StormStarted) isMessage()   {}
func (StormEnded) isMessage()     {}
func (StormOffset) isMessage()    {}
func (StormAmplitude) isMessage() {}
func (Button) isMessage()         {}
func (MiddleClickAt) isMessage()  {}
func (Status) isMessage()         {}
func (Log) isMessage()            {}
func (DeviceError) isMessage()    {}
func (Unrecognized) isMessage()   {}
func (Malformed) isMessage()      {}
