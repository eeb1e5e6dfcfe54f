// Package command maps frames to Set/Get/Del/Ping requests and applies them to a store.
package command

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCommand        = errors.New("command error")
	ErrUnknownCommand = fmt.Errorf("%w: unknown command", ErrCommand)
	ErrMissingKey     = fmt.Errorf("%w: missing key", ErrCommand)
	ErrMissingValue   = fmt.Errorf("%w: missing value", ErrCommand)
)

const Pong = "PONG"

type Type int

const (
	CmdSet Type = iota
	CmdGet
	CmdDel
	CmdPing
)

func (t Type) String() string {
	switch t {
	case CmdSet:
		return "set"
	case CmdGet:
		return "get"
	case CmdDel:
		return "del"
	case CmdPing:
		return "ping"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Command is one request. Args holds the key for get and del, and the key
// followed by the value for set.
type Command struct {
	Type Type
	Args []string
}

func Set(key, value string) Command {
	return Command{Type: CmdSet, Args: []string{key, value}}
}

func Get(key string) Command {
	return Command{Type: CmdGet, Args: []string{key}}
}

func Del(key string) Command {
	return Command{Type: CmdDel, Args: []string{key}}
}

func Ping() Command {
	return Command{Type: CmdPing}
}

func (c Command) Key() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

func (c Command) Value() string {
	if len(c.Args) < 2 {
		return ""
	}
	return c.Args[1]
}

// validate checks that c carries exactly the arguments its type needs.
func (c Command) validate() error {
	var want int
	switch c.Type {
	case CmdSet:
		want = 2
	case CmdGet, CmdDel:
		want = 1
	case CmdPing:
		want = 0
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, c.Type)
	}
	switch {
	case len(c.Args) > want:
		return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrCommand, c.Type, want, len(c.Args))
	case want >= 1 && len(c.Args) < 1:
		return fmt.Errorf("%w for %s", ErrMissingKey, c.Type)
	case want == 2 && len(c.Args) < 2:
		return fmt.Errorf("%w for %s", ErrMissingValue, c.Type)
	}
	return nil
}

func (c Command) String() string {
	switch c.Type {
	case CmdSet:
		return fmt.Sprintf("SET %q %q", c.Key(), c.Value())
	case CmdGet, CmdDel:
		return fmt.Sprintf("%s %q", strings.ToUpper(c.Type.String()), c.Key())
	default:
		return "PING"
	}
}
