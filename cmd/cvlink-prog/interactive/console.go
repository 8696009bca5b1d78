// Package interactive provides the interactive command-line interface
// for the CV programming client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/cvlink-project/cvlink-go/pkg/config"
	"github.com/cvlink-project/cvlink-go/pkg/connection"
	"github.com/cvlink-project/cvlink-go/pkg/export"
	"github.com/cvlink-project/cvlink-go/pkg/meta"
	"github.com/cvlink-project/cvlink-go/pkg/persistence"
	"github.com/cvlink-project/cvlink-go/pkg/prog"
)

// defaultOpTimeout bounds the wait for a single read/write answer when
// the configuration does not set one.
const defaultOpTimeout = 2 * time.Second

// Options configures the console.
type Options struct {
	// Backend is the programming backend. The console is its sole
	// event consumer.
	Backend prog.Backend

	// Manager supervises the backend connection. Optional; status
	// and reconnect information degrade gracefully without it.
	Manager *connection.Manager

	// Catalog annotates CV numbers. Never nil after New.
	Catalog *meta.Catalog

	// Store persists scan sessions. Nil disables save/sessions.
	Store *persistence.SessionStore

	// Config is the resolved client configuration.
	Config config.Config
}

// Console handles interactive mode for cvlink-prog.
type Console struct {
	opts Options
	rl   *readline.Instance

	// Last completed scan, for save and export.
	lastScan map[int]byte
	lastFrom int
	lastTo   int
}

// New creates a console. The caller runs it with Run.
func New(opts Options) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cvlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	if opts.Catalog == nil {
		opts.Catalog = meta.NewCatalog()
	}

	return &Console{opts: opts, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output to avoid interfering with input.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "read", "r":
			c.cmdRead(ctx, args)

		case "write", "w":
			c.cmdWrite(ctx, args)

		case "scan":
			c.cmdScan(ctx, args)

		case "meta", "m":
			c.cmdMeta(args)

		case "save":
			c.cmdSave(args)

		case "export":
			c.cmdExport(args)

		case "sessions":
			c.cmdSessions()

		case "status":
			c.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
CVLink Commands:
  Programming:
    read <cv>             - Read a CV from the decoder
    write <cv> <value>    - Write a CV value (decimal or 0x hex)
    scan [from] [to]      - Scan a CV range (default 1..29)
    scan ... gated        - Wait for each answer before the next read

  Metadata:
    meta                  - List known CV names
    meta <cv>             - Show details for one CV

  Sessions:
    save [notes...]       - Persist the last scan
    sessions              - List stored sessions
    export <csv|json|table> [file] - Export the last scan

  General:
    status                - Show connection status
    help                  - Show this help
    quit                  - Exit`)
}

// opTimeout returns the wait for one operation's answer.
func (c *Console) opTimeout() time.Duration {
	if c.opts.Config.Timeout > 0 {
		return c.opts.Config.Timeout
	}
	return defaultOpTimeout
}

// drainEvents discards buffered events so a fresh operation's answer
// is not confused with stale traffic.
func (c *Console) drainEvents() {
	for {
		select {
		case <-c.opts.Backend.Events():
		default:
			return
		}
	}
}

// awaitAnswer waits for the event resolving an operation on cv. Nack
// and failure events without a CV count as answers: the Z21 nack does
// not name the CV it refuses.
func (c *Console) awaitAnswer(ctx context.Context, cv int) (prog.Event, bool) {
	timer := time.NewTimer(c.opTimeout())
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-c.opts.Backend.Events():
			if !ok {
				return prog.Event{}, false
			}
			switch ev.Type {
			case prog.EventReadResult, prog.EventWriteResult:
				if ev.CV == cv {
					return ev, true
				}
			case prog.EventNack, prog.EventFailure:
				if ev.CV == cv || ev.CV == 0 {
					return ev, true
				}
			}
		case <-timer.C:
			return prog.Event{}, false
		case <-ctx.Done():
			return prog.Event{}, false
		}
	}
}

func (c *Console) cmdRead(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: read <cv>")
		return
	}
	cv, err := parseCV(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid CV: %v\n", err)
		return
	}

	c.drainEvents()
	if err := c.opts.Backend.ReadCV(cv); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Read failed: %v\n", err)
		return
	}

	ev, ok := c.awaitAnswer(ctx, cv)
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "CV %d: no answer\n", cv)
		return
	}
	switch ev.Type {
	case prog.EventReadResult:
		fmt.Fprintf(c.rl.Stdout(), "CV %d (%s) = %s\n",
			cv, c.opts.Catalog.Name(cv), c.opts.Catalog.DescribeValue(cv, ev.Value))
	case prog.EventNack:
		fmt.Fprintf(c.rl.Stdout(), "CV %d: no acknowledgment from decoder\n", cv)
	default:
		fmt.Fprintf(c.rl.Stdout(), "CV %d: %s\n", cv, ev.Message)
	}
}

func (c *Console) cmdWrite(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: write <cv> <value>")
		return
	}
	cv, err := parseCV(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid CV: %v\n", err)
		return
	}
	value, err := parseValue(args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid value: %v\n", err)
		return
	}

	if info, ok := c.opts.Catalog.Lookup(cv); ok && info.ReadOnly {
		fmt.Fprintf(c.rl.Stdout(), "Warning: CV %d (%s) is read-only on most decoders\n",
			cv, info.Name)
	}

	c.drainEvents()
	if err := c.opts.Backend.WriteCV(cv, value); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Write failed: %v\n", err)
		return
	}

	ev, ok := c.awaitAnswer(ctx, cv)
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "CV %d: no confirmation\n", cv)
		return
	}
	switch ev.Type {
	case prog.EventWriteResult:
		fmt.Fprintf(c.rl.Stdout(), "CV %d = %d written\n", cv, ev.Value)
	case prog.EventNack:
		fmt.Fprintf(c.rl.Stdout(), "CV %d: write rejected\n", cv)
	default:
		fmt.Fprintf(c.rl.Stdout(), "CV %d: %s\n", cv, ev.Message)
	}
}

func (c *Console) cmdScan(ctx context.Context, args []string) {
	from, to := 1, 29
	mode := prog.ModePaced

	var nums []int
	for _, arg := range args {
		if strings.EqualFold(arg, "gated") {
			mode = prog.ModeGated
			continue
		}
		n, err := parseCV(arg)
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Invalid CV: %v\n", err)
			return
		}
		nums = append(nums, n)
	}
	switch len(nums) {
	case 0:
	case 1:
		from, to = nums[0], nums[0]
	case 2:
		from, to = nums[0], nums[1]
	default:
		fmt.Fprintln(c.rl.Stdout(), "Usage: scan [from] [to] [gated]")
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Scanning CV %d..%d (%s)...\n", from, to, mode)

	c.drainEvents()
	results, err := prog.Scan(ctx, c.opts.Backend, prog.ScanOptions{
		From:   from,
		To:     to,
		Mode:   mode,
		Pacing: c.opts.Config.Pacing,
		Progress: func(cv int, value byte, ok bool) {
			if ok {
				fmt.Fprintf(c.rl.Stdout(), "  CV %-3d = %s\n",
					cv, c.opts.Catalog.DescribeValue(cv, value))
			} else {
				fmt.Fprintf(c.rl.Stdout(), "  CV %-3d   no answer\n", cv)
			}
		},
	})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Scan interrupted: %v\n", err)
	}

	fmt.Fprintf(c.rl.Stdout(), "Scan complete: %d of %d CVs answered\n",
		len(results), to-from+1)

	if len(results) > 0 {
		c.lastScan = results
		c.lastFrom = from
		c.lastTo = to
		if c.opts.Store != nil {
			fmt.Fprintln(c.rl.Stdout(), "Use 'save' to persist this scan")
		}
	}
}

func (c *Console) cmdMeta(args []string) {
	if len(args) == 0 {
		for _, cv := range c.opts.Catalog.Known() {
			info, _ := c.opts.Catalog.Lookup(cv)
			ro := ""
			if info.ReadOnly {
				ro = " (read-only)"
			}
			fmt.Fprintf(c.rl.Stdout(), "  CV %-3d %s%s\n", cv, info.Name, ro)
		}
		return
	}

	cv, err := parseCV(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid CV: %v\n", err)
		return
	}
	info, ok := c.opts.Catalog.Lookup(cv)
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "No metadata for CV %d\n", cv)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "CV %d: %s\n", cv, info.Name)
	if info.Description != "" {
		fmt.Fprintf(c.rl.Stdout(), "  %s\n", info.Description)
	}
	if info.ReadOnly {
		fmt.Fprintln(c.rl.Stdout(), "  Read-only")
	}
	for bit, label := range info.BitLabels {
		if label != "" {
			fmt.Fprintf(c.rl.Stdout(), "  bit %d: %s\n", bit, label)
		}
	}
}

func (c *Console) cmdSave(args []string) {
	if c.opts.Store == nil {
		fmt.Fprintln(c.rl.Stdout(), "No session directory configured (set session_dir)")
		return
	}
	if len(c.lastScan) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "Nothing to save; run a scan first")
		return
	}

	session := &persistence.Session{
		Station:     stationLabel(c.opts.Config),
		Protocol:    c.opts.Config.Protocol,
		LocoAddress: c.opts.Config.LocoAddress,
		From:        c.lastFrom,
		To:          c.lastTo,
		Notes:       strings.Join(args, " "),
	}
	session.SetValues(c.lastScan)

	path, err := c.opts.Store.Save(session)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Save failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Saved %d values to %s\n", len(c.lastScan), path)
}

func (c *Console) cmdExport(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: export <csv|json|table> [file]")
		return
	}
	format := strings.ToLower(args[0])

	session := c.exportSession()
	if session == nil {
		fmt.Fprintln(c.rl.Stdout(), "Nothing to export; run a scan first")
		return
	}

	var w io.Writer = c.rl.Stdout()
	if len(args) > 1 {
		f, err := os.Create(args[1])
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Export failed: %v\n", err)
			return
		}
		defer f.Close()
		w = f
	}

	var err error
	switch format {
	case "csv":
		err = export.WriteCSV(w, session, c.opts.Catalog)
	case "json":
		err = export.WriteJSON(w, session, c.opts.Catalog)
	case "table":
		err = export.WriteTable(w, session, c.opts.Catalog)
	default:
		fmt.Fprintf(c.rl.Stdout(), "Unknown format: %s (csv, json, table)\n", format)
		return
	}
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Export failed: %v\n", err)
		return
	}
	if len(args) > 1 {
		fmt.Fprintf(c.rl.Stdout(), "Exported to %s\n", args[1])
	}
}

// exportSession returns the last scan as a session, falling back to
// the latest stored one.
func (c *Console) exportSession() *persistence.Session {
	if len(c.lastScan) > 0 {
		session := &persistence.Session{
			Station:     stationLabel(c.opts.Config),
			Protocol:    c.opts.Config.Protocol,
			LocoAddress: c.opts.Config.LocoAddress,
			From:        c.lastFrom,
			To:          c.lastTo,
		}
		session.SetValues(c.lastScan)
		return session
	}
	if c.opts.Store != nil {
		session, err := c.opts.Store.Latest()
		if err == nil && session != nil {
			return session
		}
	}
	return nil
}

func (c *Console) cmdSessions() {
	if c.opts.Store == nil {
		fmt.Fprintln(c.rl.Stdout(), "No session directory configured (set session_dir)")
		return
	}
	paths, err := c.opts.Store.List()
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Failed to list sessions: %v\n", err)
		return
	}
	if len(paths) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No stored sessions")
		return
	}
	for _, path := range paths {
		session, err := c.opts.Store.Load(path)
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "  %s (unreadable: %v)\n", path, err)
			continue
		}
		fmt.Fprintf(c.rl.Stdout(), "  %s  CV %d..%d, %d values",
			session.SavedAt.Format("2006-01-02 15:04:05"),
			session.From, session.To, len(session.Values))
		if session.Notes != "" {
			fmt.Fprintf(c.rl.Stdout(), "  (%s)", session.Notes)
		}
		fmt.Fprintln(c.rl.Stdout())
	}
}

func (c *Console) cmdStatus() {
	cfg := c.opts.Config
	fmt.Fprintf(c.rl.Stdout(), "Protocol:  %s\n", cfg.Protocol)
	if cfg.SerialDevice != "" {
		fmt.Fprintf(c.rl.Stdout(), "Station:   %s\n", cfg.SerialDevice)
	} else {
		fmt.Fprintf(c.rl.Stdout(), "Station:   %s\n", cfg.Addr())
	}
	if cfg.Protocol == config.ProtocolZ21 {
		fmt.Fprintf(c.rl.Stdout(), "Loco:      %d\n", cfg.LocoAddress)
	}
	fmt.Fprintf(c.rl.Stdout(), "Transport: %s\n", c.opts.Backend.State())
	if c.opts.Manager != nil {
		fmt.Fprintf(c.rl.Stdout(), "Session:   %s\n", c.opts.Manager.State())
		if attempts := c.opts.Manager.BackoffAttempts(); attempts > 0 {
			fmt.Fprintf(c.rl.Stdout(), "Reconnect: attempt %d\n", attempts)
		}
	}
	if c.opts.Backend.Busy() {
		fmt.Fprintln(c.rl.Stdout(), "Busy:      operation pending")
	}
	if len(c.lastScan) > 0 {
		fmt.Fprintf(c.rl.Stdout(), "Last scan: CV %d..%d, %d values\n",
			c.lastFrom, c.lastTo, len(c.lastScan))
	}
}

// stationLabel names the station for persisted sessions.
func stationLabel(cfg config.Config) string {
	if cfg.SerialDevice != "" {
		return cfg.SerialDevice
	}
	return cfg.Addr()
}

// parseCV parses a 1-based CV number.
func parseCV(s string) (int, error) {
	cv, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %s", s)
	}
	return cv, nil
}

// parseValue parses a CV value, decimal or 0x-prefixed hex.
func parseValue(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("not a byte value: %s", s)
	}
	return byte(v), nil
}
