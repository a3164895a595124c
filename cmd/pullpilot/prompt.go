package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// promptConfirmer asks yes/no questions on the terminal. Anything but
// y or yes is a no.
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func (p promptConfirmer) Confirm(prompt string) bool {
	_, _ = fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	line, _ := p.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// cliNotifier prints controller alerts to stderr and notices to stdout.
type cliNotifier struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
}

func (n *cliNotifier) Alert(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintln(n.errOut, msg)
}

func (n *cliNotifier) Notice(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintln(n.out, msg)
}

// readLine reads one trimmed line.
func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads a password without echo when in is a terminal and
// as a plain line otherwise.
func readPassword(in *bufio.Reader, inFile *os.File, out io.Writer) (string, error) {
	if inFile != nil && term.IsTerminal(int(inFile.Fd())) {
		_, _ = fmt.Fprint(out, "Password: ")
		b, err := term.ReadPassword(int(inFile.Fd()))
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return readLine(in)
}
