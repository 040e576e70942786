package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

type CommandHandler func(ctx context.Context, cli *CLI, args []string) error

type ArgumentType int

const (
	// ArgUserInput is a required positional value.
	ArgUserInput ArgumentType = iota
	// ArgKeywordWithValue is an optional "name value" pair.
	ArgKeywordWithValue
)

type Argument struct {
	Name        string
	Description string
	Type        ArgumentType
	Values      []string
}

type CommandNode struct {
	Name        string
	Description string
	Handler     CommandHandler
	Children    []*CommandNode
	Arguments   []*Argument
}

type CommandTree struct {
	root *CommandNode
}

var (
	errUnrecognized = errors.New("unrecognized command")
	errIncomplete   = errors.New("incomplete command")
)

func NewCommandTree() *CommandTree {
	return &CommandTree{root: &CommandNode{Name: "root"}}
}

func (n *CommandNode) child(name string) *CommandNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (t *CommandTree) AddRoot(path []string, description string) {
	current := t.root
	for _, part := range path {
		next := current.child(part)
		if next == nil {
			next = &CommandNode{Name: part}
			current.Children = append(current.Children, next)
		}
		current = next
	}
	if current.Description == "" {
		current.Description = description
	}
}

func (t *CommandTree) AddCommand(path []string, description string, handler CommandHandler, args ...*Argument) {
	t.AddRoot(path, description)
	node := t.find(path)
	node.Handler = handler
	node.Arguments = args
}

func (t *CommandTree) find(path []string) *CommandNode {
	current := t.root
	for _, part := range path {
		current = current.child(part)
		if current == nil {
			return nil
		}
	}
	return current
}

// walk descends as far as tokens name commands and returns the node
// reached and the remaining tokens.
func (t *CommandTree) walk(tokens []string) (*CommandNode, []string) {
	current := t.root
	for i, tok := range tokens {
		next := current.child(tok)
		if next == nil {
			return current, tokens[i:]
		}
		current = next
	}
	return current, nil
}

func (t *CommandTree) Execute(ctx context.Context, cli *CLI, input string) error {
	tokens := strings.Fields(input)
	if len(tokens) == 0 {
		return nil
	}

	node, args := t.walk(tokens)
	if node.Handler == nil {
		if len(args) > 0 || node == t.root {
			return errUnrecognized
		}
		return errIncomplete
	}
	if err := validateArguments(node, args); err != nil {
		return err
	}
	return node.Handler(ctx, cli, args)
}

func validateArguments(cmd *CommandNode, args []string) error {
	var required []string
	for _, arg := range cmd.Arguments {
		if arg.Type == ArgUserInput {
			required = append(required, arg.Name)
		}
	}
	if len(args) >= len(required) {
		return nil
	}
	if len(required) == 1 {
		return fmt.Errorf("%s required", required[0])
	}
	return fmt.Errorf("missing required arguments: %s", strings.Join(required[len(args):], ", "))
}

// parseOptions splits args into the positional values of cmd and its
// "keyword value" options.
func parseOptions(cmd *CommandNode, args []string) ([]string, map[string]string, error) {
	var npos int
	keywords := make(map[string]*Argument)
	for _, arg := range cmd.Arguments {
		switch arg.Type {
		case ArgUserInput:
			npos++
		case ArgKeywordWithValue:
			keywords[arg.Name] = arg
		}
	}
	if len(args) < npos {
		return nil, nil, validateArguments(cmd, args)
	}

	opts := make(map[string]string)
	rest := args[npos:]
	for i := 0; i < len(rest); i += 2 {
		arg, ok := keywords[rest[i]]
		if !ok {
			return nil, nil, fmt.Errorf("unknown option %q", rest[i])
		}
		if i+1 >= len(rest) {
			return nil, nil, fmt.Errorf("%s requires a value", rest[i])
		}
		val := rest[i+1]
		if len(arg.Values) > 0 && !contains(arg.Values, val) {
			return nil, nil, fmt.Errorf("%s must be one of %s", arg.Name, strings.Join(arg.Values, ", "))
		}
		opts[arg.Name] = val
	}
	return args[:npos], opts, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (t *CommandTree) GetCompletions(input string) []string {
	tokens := strings.Fields(input)
	endsWithSpace := len(input) > 0 && input[len(input)-1] == ' '

	prefix := ""
	if !endsWithSpace && len(tokens) > 0 {
		prefix = tokens[len(tokens)-1]
		tokens = tokens[:len(tokens)-1]
	}

	node, args := t.walk(tokens)
	if len(args) > 0 && node.Handler == nil {
		return nil
	}

	var completions []string
	if len(args) == 0 {
		for _, c := range node.Children {
			if strings.HasPrefix(c.Name, prefix) {
				completions = append(completions, c.Name)
			}
		}
	}

	if node.Handler != nil {
		npos := 0
		for _, a := range node.Arguments {
			if a.Type == ArgUserInput {
				npos++
			}
		}
		if len(args) < npos {
			return completions
		}
		opts := args[npos:]
		if len(opts)%2 == 1 {
			for _, a := range node.Arguments {
				if a.Name == opts[len(opts)-1] {
					return filterPrefix(a.Values, prefix)
				}
			}
			return nil
		}
		used := make(map[string]bool)
		for i := 0; i < len(opts); i += 2 {
			used[opts[i]] = true
		}
		for _, a := range node.Arguments {
			if a.Type == ArgKeywordWithValue && !used[a.Name] && strings.HasPrefix(a.Name, prefix) {
				completions = append(completions, a.Name)
			}
		}
	}
	return completions
}

func filterPrefix(values []string, prefix string) []string {
	var out []string
	for _, v := range values {
		if strings.HasPrefix(v, prefix) {
			out = append(out, v)
		}
	}
	return out
}

func (t *CommandTree) ShowHelp(w io.Writer, input string) {
	node, _ := t.walk(strings.Fields(input))

	fmt.Fprintln(w)
	if len(node.Children) > 0 {
		for _, child := range node.Children {
			fmt.Fprintf(w, "  %-20s %s\n", child.Name, child.Description)
		}
	}
	if node.Handler != nil {
		for _, arg := range node.Arguments {
			name := arg.Name
			if arg.Type == ArgUserInput {
				name = "<" + name + ">"
			}
			fmt.Fprintf(w, "  %-20s %s\n", name, arg.Description)
		}
		if len(node.Arguments) == 0 && len(node.Children) == 0 {
			fmt.Fprintln(w, "  <cr>")
		}
	}
	fmt.Fprintln(w)
}
