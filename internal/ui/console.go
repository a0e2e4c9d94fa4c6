package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrQuit is returned by [Console.Run] when the user asked to quit.
var ErrQuit = errors.New("ui: quit")

// meterWidth is the number of cells in an intensity meter.
const meterWidth = 10

// Controller is the session control surface the console drives.
type Controller interface {
	Start() error
	Stop() error
}

// Console is a line-oriented terminal surface. It reads commands from an
// input stream and writes a status line whenever the store changes.
type Console struct {
	in    io.Reader
	out   io.Writer
	store *Store
	ctl   Controller
	name  string

	mu   sync.Mutex
	last string
}

// NewConsole creates a Console. name labels the model's meter and transcript
// side, e.g. "WOLFA".
func NewConsole(in io.Reader, out io.Writer, store *Store, ctl Controller, name string) *Console {
	if name == "" {
		name = "model"
	}
	return &Console{in: in, out: out, store: store, ctl: ctl, name: name}
}

// Run processes commands until ctx ends, input is exhausted or the user
// quits. It returns [ErrQuit] on quit and nil otherwise.
func (c *Console) Run(ctx context.Context) error {
	updates, cancel := c.store.Subscribe()
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.println("commands: start, stop, status, quit")
	c.render(true)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("ui: read console: %w", err)
			}
			return nil
		case <-updates:
			c.render(false)
		case line := <-lines:
			if c.handle(strings.TrimSpace(line)) {
				return ErrQuit
			}
		}
	}
}

// handle executes one command line. It reports whether the console should
// exit.
func (c *Console) handle(line string) bool {
	switch strings.ToLower(line) {
	case "":
	case "start":
		if !c.store.CanStart() {
			c.println("cannot start while " + c.store.Status().String())
			return false
		}
		if err := c.ctl.Start(); err != nil {
			c.println("start: " + err.Error())
		}
	case "stop":
		if !c.store.CanStop() {
			c.println("cannot stop while " + c.store.Status().String())
			return false
		}
		if err := c.ctl.Stop(); err != nil {
			c.println("stop: " + err.Error())
		}
	case "status":
		c.render(true)
	case "quit", "exit":
		return true
	default:
		c.println(fmt.Sprintf("unknown command %q (start, stop, status, quit)", line))
	}
	return false
}

// render writes the status line if it changed or force is set.
func (c *Console) render(force bool) {
	line := FormatLine(c.store.Snapshot(), c.name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !force && line == c.last {
		return
	}
	c.last = line
	fmt.Fprintln(c.out, line)
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// FormatLine renders snap as a single status line.
func FormatLine(snap Snapshot, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] you %s %s %s", snap.Status, meter(snap.InputIntensity), name, meter(snap.ModelIntensity))
	if t := snap.Transcript; t != nil {
		fmt.Fprintf(&b, " | you: %s / %s: %s", t.User, name, t.Model)
	}
	if e := snap.Error; e != nil {
		fmt.Fprintf(&b, " | %s error: %s", e.Category, e.Message)
	}
	return b.String()
}

// meter draws intensity as a bar. Values at or above 1 fill the bar.
func meter(v float64) string {
	n := int(v * meterWidth)
	n = max(0, min(n, meterWidth))
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", meterWidth-n) + "]"
}
