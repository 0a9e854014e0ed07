package xcvr

import (
	"fmt"
	"log/slog"
	"sync"
)

// RawKind identifies which hardware encoding a RawSignal carries.
type RawKind string

const (
	// RawPresenceBit is a single presence bit read from a register or attribute.
	RawPresenceBit RawKind = "presence"
	// RawModuleState is an SDK module state, with ErrorType set for state 3.
	RawModuleState RawKind = "module_state"
	// RawUEventAction is a kobject uevent ACTION, add or remove.
	RawUEventAction RawKind = "uevent"
)

// SDK module states as delivered by the port module plug trap.
const (
	ModuleStatePlugged   uint8 = 1
	ModuleStateUnplugged uint8 = 2
	ModuleStateError     uint8 = 3
	ModuleStateDisabled  uint8 = 4
)

// moduleErrors holds the SDK error types that block EEPROM access. Error
// types missing here (power budget exceeded, internal errors, ...) do not.
var moduleErrors = map[uint8]Status{
	0x2: StatusI2CStuck,
	0x3: StatusBadEEPROM,
	0x5: StatusUnsupportedCable,
	0x6: StatusHighTemperature,
	0x7: StatusBadCable,
}

// RawSignal is one undecoded observation for one port.
type RawSignal struct {
	Port      int
	Kind      RawKind
	Code      uint8
	ErrorType uint8
	Action    string
}

// Decoder maps raw signals onto the Status vocabulary.
type Decoder struct {
	activeLow bool
	logger    *slog.Logger

	mu      sync.Mutex
	unknown map[string]struct{}
}

// NewDecoder returns a decoder for the given presence polarity.
func NewDecoder(activeLow bool, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		activeLow: activeLow,
		logger:    logger,
		unknown:   make(map[string]struct{}),
	}
}

// DecodePresence maps a presence bit. It is PRESENT iff the bit matches the
// configured polarity.
func DecodePresence(bit uint8, activeLow bool) Status {
	switch bit {
	case 0:
		if activeLow {
			return StatusPresent
		}
		return StatusAbsent
	case 1:
		if activeLow {
			return StatusAbsent
		}
		return StatusPresent
	}
	return StatusUnknown
}

// DecodeModuleState maps an SDK module state and error type. report is false
// when the signal must not be surfaced: either the code is unrecognized or
// the error type does not block EEPROM access.
func DecodeModuleState(state, errorType uint8) (status Status, report bool) {
	switch state {
	case ModuleStatePlugged:
		return StatusPresent, true
	case ModuleStateUnplugged, ModuleStateDisabled:
		return StatusAbsent, true
	case ModuleStateError:
		if s, ok := moduleErrors[errorType]; ok {
			return s, true
		}
		return StatusUnknown, false
	}
	return StatusUnknown, false
}

// DecodeAction maps a uevent ACTION value.
func DecodeAction(action string) Status {
	switch action {
	case "add":
		return StatusPresent
	case "remove":
		return StatusAbsent
	}
	return StatusUnknown
}

// Decode maps sig. ok is false when nothing must be reported for it; the
// reason is logged, unrecognized codes once per distinct value.
func (d *Decoder) Decode(sig RawSignal) (Status, bool) {
	switch sig.Kind {
	case RawPresenceBit:
		s := DecodePresence(sig.Code, d.activeLow)
		if s == StatusUnknown {
			d.logUnknown(sig, fmt.Sprintf("presence:%d", sig.Code))
			return s, false
		}
		return s, true

	case RawModuleState:
		s, ok := DecodeModuleState(sig.Code, sig.ErrorType)
		if ok {
			return s, true
		}
		if sig.Code == ModuleStateError {
			d.logger.Info("module error does not block eeprom access, ignored",
				"port", sig.Port,
				"errorType", fmt.Sprintf("0x%x", sig.ErrorType))
			return StatusUnknown, false
		}
		d.logUnknown(sig, fmt.Sprintf("module_state:%d", sig.Code))
		return StatusUnknown, false

	case RawUEventAction:
		s := DecodeAction(sig.Action)
		if s == StatusUnknown {
			d.logUnknown(sig, "uevent:"+sig.Action)
			return s, false
		}
		return s, true
	}

	d.logUnknown(sig, "kind:"+string(sig.Kind))
	return StatusUnknown, false
}

func (d *Decoder) logUnknown(sig RawSignal, key string) {
	d.mu.Lock()
	_, seen := d.unknown[key]
	if !seen {
		d.unknown[key] = struct{}{}
	}
	d.mu.Unlock()

	if seen {
		return
	}
	d.logger.Warn("unrecognized raw code, treated as no change",
		"port", sig.Port,
		"kind", sig.Kind,
		"code", sig.Code,
		"action", sig.Action)
}
