// Package xcvr holds the transceiver port model: the status vocabulary, the
// static port registry and the decoder that turns raw hardware codes into
// statuses.
package xcvr

import "strconv"

// Status is the closed set of transceiver states reported to callers.
type Status int

const (
	StatusUnknown Status = iota - 1
	StatusAbsent
	StatusPresent
	StatusI2CStuck
	StatusBadEEPROM
	StatusUnsupportedCable
	StatusHighTemperature
	StatusBadCable
)

var statusNames = map[Status]string{
	StatusUnknown:          "UNKNOWN",
	StatusAbsent:           "ABSENT",
	StatusPresent:          "PRESENT",
	StatusI2CStuck:         "I2C_STUCK",
	StatusBadEEPROM:        "BAD_EEPROM",
	StatusUnsupportedCable: "UNSUPPORTED_CABLE",
	StatusHighTemperature:  "HIGH_TEMPERATURE",
	StatusBadCable:         "BAD_CABLE",
}

// AllStatuses lists every status in code order, UNKNOWN first.
var AllStatuses = []Status{
	StatusUnknown,
	StatusAbsent,
	StatusPresent,
	StatusI2CStuck,
	StatusBadEEPROM,
	StatusUnsupportedCable,
	StatusHighTemperature,
	StatusBadCable,
}

// String returns the code used by chassis-level change consumers:
// "0" absent, "1" present, "2".."6" module errors and "-1" unknown.
func (s Status) String() string {
	if !s.Valid() {
		return StatusUnknown.String()
	}
	return strconv.Itoa(int(s))
}

// Name returns the symbolic name, e.g. "HIGH_TEMPERATURE".
func (s Status) Name() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return statusNames[StatusUnknown]
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Blocking reports whether EEPROM access must be treated as unavailable
// while the port is in this status.
func (s Status) Blocking() bool {
	return s != StatusPresent && s != StatusAbsent
}

// IsError reports whether s is one of the module error statuses.
func (s Status) IsError() bool {
	return s >= StatusI2CStuck && s <= StatusBadCable
}

// ParseStatus accepts either the numeric code or the symbolic name.
func ParseStatus(v string) (Status, bool) {
	for _, s := range AllStatuses {
		if v == s.String() || v == s.Name() {
			return s, true
		}
	}
	return StatusUnknown, false
}

// ValidTransition reports whether a port may move from prev to next.
//
//	ABSENT  -> PRESENT
//	PRESENT -> ABSENT | any error
//	error   -> ABSENT | PRESENT
func ValidTransition(prev, next Status) bool {
	switch {
	case prev == StatusAbsent:
		return next == StatusPresent
	case prev == StatusPresent:
		return next == StatusAbsent || next.IsError()
	case prev.IsError():
		return next == StatusAbsent || next == StatusPresent
	}
	return false
}
