package keys

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Linux input event constants (linux/input-event-codes.h).
const (
	evKey = 0x01

	keyReleased = 0
	keyPressed  = 1
	keyRepeated = 2
)

// evdevNames maps Linux key codes to key names. Modifier codes are tracked
// separately and never reported as events.
var evdevNames = map[uint16]string{
	51:  "comma",
	52:  "period",
	69:  "Num_Lock",
	83:  "period", // keypad decimal
	102: "Home",
	103: "Up",
	104: "Prior",
	105: "Left",
	106: "Right",
	107: "End",
	108: "Down",
	109: "Next",
}

var evdevMods = map[uint16]Mods{
	42:  Shift, // left shift
	54:  Shift, // right shift
	29:  Ctrl,  // left ctrl
	97:  Ctrl,  // right ctrl
	56:  Alt,   // left alt
	100: Alt,   // right alt
}

// inputEvent is struct input_event on 64-bit Linux.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// EvdevDecoder converts raw input events into key events.
type EvdevDecoder struct {
	held map[uint16]bool
}

// NewEvdevDecoder creates a decoder with no modifiers held.
func NewEvdevDecoder() *EvdevDecoder {
	return &EvdevDecoder{held: make(map[uint16]bool)}
}

func (d *EvdevDecoder) mods() Mods {
	var m Mods
	for code := range d.held {
		m |= evdevMods[code]
	}
	return m
}

// Decode returns the key event for one raw event, if it yields one.
// Auto-repeat is reported as another key-down.
func (d *EvdevDecoder) Decode(typ, code uint16, value int32) (Event, bool) {
	if typ != evKey {
		return Event{}, false
	}
	if _, ok := evdevMods[code]; ok {
		if value == keyReleased {
			delete(d.held, code)
		} else {
			d.held[code] = true
		}
		return Event{}, false
	}
	name, ok := evdevNames[code]
	if !ok {
		return Event{}, false
	}
	switch value {
	case keyPressed, keyRepeated:
		return Event{Key: name, Mods: d.mods(), Down: true}, true
	case keyReleased:
		return Event{Key: name, Mods: d.mods(), Down: false}, true
	}
	return Event{}, false
}

// ReadEvdev reads key events from r (an opened /dev/input/event* node) and
// passes them to fn until ctx is done or r fails.
func ReadEvdev(ctx context.Context, r io.Reader, fn func(Event)) error {
	br := bufio.NewReader(r)
	dec := NewEvdevDecoder()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ev inputEvent
		if err := binary.Read(br, binary.LittleEndian, &ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input event: %w", err)
		}
		if e, ok := dec.Decode(ev.Type, ev.Code, ev.Value); ok {
			fn(e)
		}
	}
}

// OpenEvdev opens an input device node and streams its key events to fn.
// The device is closed when ctx is done, which also unblocks the reader.
func OpenEvdev(ctx context.Context, path string, fn func(Event)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	stop := context.AfterFunc(ctx, func() { f.Close() })
	defer stop()
	defer f.Close()

	err = ReadEvdev(ctx, f, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
