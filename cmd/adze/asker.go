package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// terminalAsker answers ask_user by prompting on the controlling terminal.
// Headless runs (no TTY on stdin) report the question as unanswerable so the
// agent can proceed on its own judgment.
type terminalAsker struct {
	in  *os.File
	out *os.File
}

func newTerminalAsker() *terminalAsker {
	return &terminalAsker{in: os.Stdin, out: os.Stderr}
}

func (a *terminalAsker) Ask(ctx context.Context, question string) (string, error) {
	if !term.IsTerminal(int(a.in.Fd())) {
		return "", fmt.Errorf("no interactive terminal to ask the user")
	}

	fmt.Fprintf(a.out, "\nagent asks: %s\n> ", question)

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(a.in).ReadString('\n')
		ch <- answer{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case ans := <-ch:
		if ans.err != nil && ans.text == "" {
			return "", fmt.Errorf("failed to read answer: %w", ans.err)
		}
		return ans.text, nil
	}
}
