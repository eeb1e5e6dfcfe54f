package command

import (
	"fmt"
	"unicode/utf8"

	"github.com/loganszeto/framekv/internal/protocol"
)

// ToFrame encodes c. Ping is a bare tag; the other commands are arrays led
// by their name tag.
func (c Command) ToFrame() (protocol.Frame, error) {
	if err := c.validate(); err != nil {
		return protocol.Frame{}, err
	}
	if c.Type == CmdPing {
		return protocol.Tag(CmdPing.String()), nil
	}
	items := make([]protocol.Frame, 0, 1+len(c.Args))
	items = append(items, protocol.Tag(c.Type.String()))
	for _, arg := range c.Args {
		items = append(items, protocol.ValueString(arg))
	}
	return protocol.Array(items...), nil
}

// FromFrame decodes a request frame, rejecting any shape other than the ones
// produced by ToFrame.
func FromFrame(f protocol.Frame) (Command, error) {
	switch f.Kind {
	case protocol.KindTag:
		if string(f.Data) == CmdPing.String() {
			return Ping(), nil
		}
		return Command{}, fmt.Errorf("%w: bare tag %q", ErrUnknownCommand, f.Data)
	case protocol.KindArray:
		return fromArray(f.Array)
	default:
		return Command{}, fmt.Errorf("%w: unexpected %s frame", ErrCommand, f.Kind)
	}
}

func fromArray(items []protocol.Frame) (Command, error) {
	if len(items) == 0 {
		return Command{}, fmt.Errorf("%w: empty array", ErrCommand)
	}
	head := items[0]
	if head.Kind != protocol.KindTag {
		return Command{}, fmt.Errorf("%w: element 0 is %s, want tag", ErrCommand, head.Kind)
	}

	var c Command
	switch string(head.Data) {
	case "set":
		c.Type = CmdSet
	case "get":
		c.Type = CmdGet
	case "del":
		c.Type = CmdDel
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, head.Data)
	}

	for i, item := range items[1:] {
		if item.Kind != protocol.KindValue {
			return Command{}, fmt.Errorf("%w: element %d is %s, want value", ErrCommand, i+1, item.Kind)
		}
		if !utf8.Valid(item.Data) {
			return Command{}, fmt.Errorf("%w: element %d is not valid UTF-8", ErrCommand, i+1)
		}
		c.Args = append(c.Args, string(item.Data))
	}
	if err := c.validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}
