package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

type CLI struct {
	client      *Client
	serverAddr  string
	rl          *readline.Instance
	running     bool
	tree        *CommandTree
	format      OutputFormat
	out         io.Writer
	currentLine string
}

func NewCLI(client *Client, serverAddr string, out io.Writer) *CLI {
	cli := &CLI{
		client:     client,
		serverAddr: serverAddr,
		running:    true,
		tree:       NewCommandTree(),
		format:     FormatCLI,
		out:        out,
	}
	registerCommands(cli.tree)
	return cli
}

func (c *CLI) Run() error {
	var err error
	c.rl, err = readline.NewEx(&readline.Config{
		Prompt:              "nsh> ",
		HistoryFile:         os.ExpandEnv("$HOME/.nshctl_history"),
		AutoComplete:        &treeCompleter{tree: c.tree},
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		FuncFilterInputRune: c.filterInputWithHelp,
		Listener:            c,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer c.rl.Close()
	c.out = c.rl.Stdout()

	c.printBanner()

	for c.running {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					break
				}
				continue
			} else if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		if err := c.processCommand(strings.TrimSpace(line)); err != nil {
			fmt.Fprintf(c.rl.Stderr(), "Error: %v\n", err)
		}
	}

	return nil
}

func (c *CLI) Stop() {
	c.running = false
}

func (c *CLI) printBanner() {
	fmt.Fprintln(c.out, "osvnsh control CLI")
	fmt.Fprintf(c.out, "Connected to: %s\n", c.serverAddr)
	fmt.Fprintln(c.out, "Type '?' for available commands, 'exit' to quit")
	fmt.Fprintln(c.out)
}

func (c *CLI) OnChange(line []rune, pos int, key rune) (newLine []rune, newPos int, ok bool) {
	c.currentLine = string(line)
	return nil, 0, false
}

func (c *CLI) filterInputWithHelp(r rune) (rune, bool) {
	switch r {
	case '?':
		fmt.Fprint(c.out, "?\n")
		c.tree.ShowHelp(c.out, c.currentLine)
		c.rl.Refresh()
		return 0, false
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (c *CLI) processCommand(line string) error {
	switch line {
	case "":
		return nil
	case "exit", "quit":
		c.running = false
		return nil
	case "?", "help":
		c.tree.ShowHelp(c.out, "")
		return nil
	}

	if strings.HasSuffix(line, "?") {
		c.tree.ShowHelp(c.out, strings.TrimSuffix(line, "?"))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return c.tree.Execute(ctx, c, line)
}

func (c *CLI) print(data any) error {
	return write(c.out, c.format, data)
}

type treeCompleter struct {
	tree *CommandTree
}

func (tc *treeCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	input := string(line[:pos])
	completions := tc.tree.GetCompletions(input)
	if len(completions) == 0 {
		return nil, 0
	}

	partial := ""
	if i := strings.LastIndexByte(input, ' '); i >= 0 {
		partial = input[i+1:]
	} else {
		partial = input
	}

	result := make([][]rune, len(completions))
	for i, comp := range completions {
		result[i] = []rune(strings.TrimPrefix(comp, partial) + " ")
	}
	return result, len([]rune(partial))
}
