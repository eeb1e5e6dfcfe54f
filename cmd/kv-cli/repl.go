package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/loganszeto/framekv/internal/command"
)

// repl reads one command per line until EOF, QUIT or EXIT. A failed
// command is reported and the loop goes on.
func repl(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		args := strings.Fields(sc.Text())
		if len(args) == 0 {
			continue
		}
		if strings.EqualFold(args[0], "QUIT") || strings.EqualFold(args[0], "EXIT") {
			return nil
		}
		c, err := parseLine(args)
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		if err := execute(ctx, c, out); err != nil {
			fmt.Fprintln(errOut, err)
		}
	}
}

// parseLine turns "set key some value" into a command. Everything after the
// key of a SET is joined into the value.
func parseLine(args []string) (command.Command, error) {
	switch strings.ToUpper(args[0]) {
	case "GET":
		if len(args) != 2 {
			return command.Command{}, fmt.Errorf("usage: GET key")
		}
		return command.Get(args[1]), nil
	case "SET":
		if len(args) < 3 {
			return command.Command{}, fmt.Errorf("usage: SET key value")
		}
		return command.Set(args[1], strings.Join(args[2:], " ")), nil
	case "DEL":
		if len(args) != 2 {
			return command.Command{}, fmt.Errorf("usage: DEL key")
		}
		return command.Del(args[1]), nil
	case "PING":
		if len(args) != 1 {
			return command.Command{}, fmt.Errorf("usage: PING")
		}
		return command.Ping(), nil
	default:
		return command.Command{}, fmt.Errorf("unknown command %q", args[0])
	}
}
