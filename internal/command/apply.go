package command

import (
	"github.com/loganszeto/framekv/internal/protocol"
	"github.com/loganszeto/framekv/internal/store"
)

// Apply runs c against st. The bool is false when there is no value to
// return: set on a new key, get or del on an absent key.
func Apply(c Command, st *store.Store) (string, bool, error) {
	if err := c.validate(); err != nil {
		return "", false, err
	}
	switch c.Type {
	case CmdSet:
		prev, ok := st.Set(c.Key(), c.Value())
		return prev, ok, nil
	case CmdGet:
		val, ok := st.Get(c.Key())
		return val, ok, nil
	case CmdDel:
		val, ok := st.Del(c.Key())
		return val, ok, nil
	default:
		return Pong, true, nil
	}
}

// Result encodes the outcome of Apply as a response frame.
func Result(val string, ok bool) protocol.Frame {
	if !ok {
		return protocol.Null()
	}
	return protocol.ValueString(val)
}

// Execute decodes req, applies it to st and returns the response frame.
func Execute(req protocol.Frame, st *store.Store) (Command, protocol.Frame, error) {
	c, err := FromFrame(req)
	if err != nil {
		return Command{}, protocol.Frame{}, err
	}
	val, ok, err := Apply(c, st)
	if err != nil {
		return c, protocol.Frame{}, err
	}
	return c, Result(val, ok), nil
}
