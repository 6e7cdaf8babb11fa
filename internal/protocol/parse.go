package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse classifies one decoded line. It never panics and never returns nil:
// every input maps to a specific variant, Unrecognized or Malformed.
// Numeric fields fail closed; there is no default substitution.
func Parse(line string) Message {
	line = strings.TrimSpace(line)

	switch line {
	case "STARTED_STORM":
		return StormStarted{}
	case "ENDED_STORM":
		return StormEnded{}
	case string(LeftPress), string(LeftRelease), string(RightPress), string(RightRelease),
		string(MiddleClick1), string(MiddleClick2):
		return Button{Event: ButtonEvent(line)}
	}

	key, rest, hasRest := strings.Cut(line, ":")
	if key == "" {
		return Unrecognized{Line: line}
	}

	switch key {
	case "TIME":
		v, err := fields(rest, hasRest, 1, 1)
		if err != nil {
			return malformed(line, err)
		}
		return TimeSync{Seconds: v[0]}

	case "SHIP":
		v, err := fields(rest, hasRest, 2, 3)
		if err != nil {
			return malformed(line, err)
		}
		if !validClass(v[0]) {
			return malformed(line, fmt.Errorf("%w: got %d", ErrBadClass, v[0]))
		}
		m := ShipSpawn{Class: v[0], X: v[1]}
		if len(v) == 3 {
			m.Y, m.HasY = v[2], true
		}
		return m

	case "RESULT":
		return parseResult(line, rest, hasRest)

	case "CROSSHAIR":
		v, err := fields(rest, hasRest, 1, 3)
		if err != nil {
			return malformed(line, err)
		}
		m := Crosshair{X: v[0]}
		if len(v) >= 2 {
			m.Y, m.HasY = v[1], true
		}
		if len(v) == 3 {
			locked, err := flag(v[2])
			if err != nil {
				return malformed(line, err)
			}
			m.Locked, m.HasLocked = locked, true
		}
		return m

	case "LOCK":
		v, err := fields(rest, hasRest, 1, 1)
		if err != nil {
			return malformed(line, err)
		}
		locked, err := flag(v[0])
		if err != nil {
			return malformed(line, err)
		}
		return Lock{Locked: locked}

	case "STORM":
		v, err := fields(rest, hasRest, 2, 2)
		if err != nil {
			return malformed(line, err)
		}
		return StormOffset{X: v[0], Y: v[1]}

	case "STORM_AMP_UPDATED":
		v, err := fields(rest, hasRest, 2, 2)
		if err != nil {
			return malformed(line, err)
		}
		return StormAmplitude{X: v[0], Y: v[1]}

	case "MIDDLE_CLICK":
		v, err := fields(rest, hasRest, 2, 2)
		if err != nil {
			return malformed(line, err)
		}
		return MiddleClickAt{X: v[0], Y: v[1]}

	case "STATUS":
		if !hasRest {
			return malformed(line, ErrMissingField)
		}
		return Status{Payload: rest}

	case "LOG", "COM":
		if !hasRest {
			return malformed(line, ErrMissingField)
		}
		return Log{Text: strings.TrimSpace(rest)}

	case "ERROR":
		if !hasRest {
			return malformed(line, ErrMissingField)
		}
		return DeviceError{Text: strings.TrimSpace(rest)}

	case "STARTED_STORM", "ENDED_STORM", string(LeftPress), string(LeftRelease),
		string(RightPress), string(RightRelease), string(MiddleClick1), string(MiddleClick2):
		return malformed(line, ErrExtraField)
	}

	return Unrecognized{Line: line}
}

// parseResult handles "RESULT:HIT:<points>[,<x>,<y>]" and "RESULT:MISS[,<x>,<y>]".
func parseResult(line, rest string, hasRest bool) Message {
	if !hasRest {
		return malformed(line, ErrMissingField)
	}

	if tail, ok := strings.CutPrefix(rest, "HIT"); ok {
		args, hasArgs := strings.CutPrefix(tail, ":")
		if !hasArgs && tail != "" {
			return malformed(line, ErrBadResult)
		}
		v, err := fields(args, hasArgs, 1, 3)
		if err != nil {
			return malformed(line, err)
		}
		if len(v) == 2 {
			return malformed(line, fmt.Errorf("%w: hit coordinates come in pairs", ErrMissingField))
		}
		m := ShotHit{Points: v[0]}
		if len(v) == 3 {
			m.X, m.Y, m.HasPos = v[1], v[2], true
		}
		return m
	}

	if tail, ok := strings.CutPrefix(rest, "MISS"); ok {
		if tail == "" {
			return ShotMiss{}
		}
		args, hasArgs := strings.CutPrefix(tail, ",")
		if !hasArgs {
			return malformed(line, ErrBadResult)
		}
		v, err := fields(args, true, 2, 2)
		if err != nil {
			return malformed(line, err)
		}
		return ShotMiss{X: v[0], Y: v[1], HasPos: true}
	}

	return malformed(line, ErrBadResult)
}

// fields parses a comma separated list of integers with min..max entries.
func fields(raw string, present bool, min, max int) ([]int, error) {
	if !present || strings.TrimSpace(raw) == "" {
		return nil, ErrMissingField
	}
	parts := strings.Split(raw, ",")
	if len(parts) < min {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrMissingField, min, len(parts))
	}
	if len(parts) > max {
		return nil, fmt.Errorf("%w: want at most %d, got %d", ErrExtraField, max, len(parts))
	}
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadNumber, p)
		}
		out[i] = n
	}
	return out, nil
}

func flag(v int) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: got %d", ErrBadFlag, v)
	}
}

func validClass(c int) bool {
	return c == 10 || c == 20 || c == 30
}

func malformed(line string, err error) Malformed {
	return Malformed{Line: line, Err: err}
}
