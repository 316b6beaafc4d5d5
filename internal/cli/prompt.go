package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// errNotInteractive is returned when a prompt is needed but stdin is not a terminal.
var errNotInteractive = errors.New("confirmation required: stdin is not a terminal (use --yes)")

// prompter reads answers line by line from one reader.
type prompter struct {
	in      *bufio.Reader
	out     io.Writer
	console bool // reading from an interactive stdin
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{
		in:      bufio.NewReader(in),
		out:     out,
		console: in == io.Reader(os.Stdin) && stdinIsTerminal(),
	}
}

// stdinIsTerminal reports whether prompts can be answered interactively.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// confirm asks a yes/no question. Anything but y/yes is a no.
func (p *prompter) confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	input, err := p.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(input) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// ask prompts for a string, returning def on empty input.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	input, err := p.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if input == "" {
		return def, nil
	}
	return input, nil
}

// askInt prompts until the answer is empty (def) or satisfies valid.
func (p *prompter) askInt(label string, def int, valid func(int) bool) (int, error) {
	for {
		s, err := p.ask(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(s)
		if err == nil && valid(v) {
			return v, nil
		}
		fmt.Fprintln(p.out, "  Invalid value, please try again.")
	}
}

// askSecret reads a value without echo when stdin is a terminal.
func (p *prompter) askSecret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if p.console && p.in.Buffered() == 0 {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	s, err := p.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return s, nil
}

// confirmDestructive asks before an irreversible action unless skip is set.
func confirmDestructive(cmd *cobra.Command, skip bool, question string) (bool, error) {
	if skip {
		return true, nil
	}
	in := cmd.InOrStdin()
	if in == io.Reader(os.Stdin) && !stdinIsTerminal() {
		return false, errNotInteractive
	}
	return newPrompter(in, cmd.OutOrStdout()).confirm(question)
}
