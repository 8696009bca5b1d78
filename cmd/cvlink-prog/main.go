// Command cvlink-prog reads and writes decoder CVs over a Z21 or
// DCC-EX command station.
//
// Usage:
//
//	cvlink-prog [flags]
//
// Flags:
//
//	-config string       Configuration file path (YAML)
//	-protocol string     Backend protocol: z21 or dccex
//	-host string         Command station address
//	-port int            Command station port (0 = protocol default)
//	-serial string       Serial device for DCC-EX (e.g. /dev/ttyUSB0)
//	-baud int            Serial baud rate
//	-loco int            Decoder address for Z21 POM operations
//	-max-cv int          Upper bound of the CV range
//	-timeout duration    Per-operation answer window
//	-pacing duration     Inter-read delay for paced scans
//	-strict-checksum     Reject Z21 frames with a bad checksum
//	-protocol-log string Capture file for the protocol log
//	-meta string         CV metadata overrides (YAML)
//	-sessions string     Directory for persisted scan sessions
//	-log-level string    Log level: debug, info, warn, error
//	-read int            Read one CV and exit
//	-write string        Write one CV ("cv=value") and exit
//	-scan string         Scan a CV range ("from-to") and exit
//	-gated               Wait for each answer during a scan
//	-format string       Scan output format: table, csv, json
//	-output string       Write scan output to a file
//	-notes string        Notes attached to a persisted scan session
//	-interactive         Enable the interactive console
//	-discover            Discover stations via mDNS and exit
//	-version             Print the version and exit
//
// Examples:
//
//	# Read CV 29 from loco 3 over a Z21 station
//	cvlink-prog -host 192.168.0.111 -loco 3 -read 29
//
//	# Write CV 8 = 8 (decoder reset) over DCC-EX
//	cvlink-prog -protocol dccex -host 10.0.0.5 -write 8=8
//
//	# Scan the basic CV block and export it as CSV
//	cvlink-prog -scan 1-29 -format csv -output loco3.csv
//
//	# Interactive session with protocol capture
//	cvlink-prog -interactive -protocol-log session.cvlog
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cvlink-project/cvlink-go/cmd/cvlink-prog/interactive"
	"github.com/cvlink-project/cvlink-go/pkg/config"
	"github.com/cvlink-project/cvlink-go/pkg/connection"
	"github.com/cvlink-project/cvlink-go/pkg/discovery"
	"github.com/cvlink-project/cvlink-go/pkg/export"
	"github.com/cvlink-project/cvlink-go/pkg/log"
	"github.com/cvlink-project/cvlink-go/pkg/meta"
	"github.com/cvlink-project/cvlink-go/pkg/persistence"
	"github.com/cvlink-project/cvlink-go/pkg/prog"
	"github.com/cvlink-project/cvlink-go/pkg/transport"
	"github.com/cvlink-project/cvlink-go/pkg/version"
)

// flags holds the raw command-line values. Only flags the user
// actually set override the configuration file.
type flags struct {
	configFile     string
	protocol       string
	host           string
	port           int
	serial         string
	baud           int
	loco           int
	maxCV          int
	timeout        time.Duration
	pacing         time.Duration
	strictChecksum bool
	protocolLog    string
	metaFile       string
	sessionDir     string
	logLevel       string

	readCV      int
	writeSpec   string
	scanSpec    string
	gated       bool
	format      string
	output      string
	notes       string
	interactive bool
	discover    bool
	version     bool
}

var opts flags

func init() {
	flag.StringVar(&opts.configFile, "config", "", "Configuration file path")
	flag.StringVar(&opts.protocol, "protocol", "", "Backend protocol: z21 or dccex")
	flag.StringVar(&opts.host, "host", "", "Command station address")
	flag.IntVar(&opts.port, "port", 0, "Command station port (0 = protocol default)")
	flag.StringVar(&opts.serial, "serial", "", "Serial device for DCC-EX")
	flag.IntVar(&opts.baud, "baud", 0, "Serial baud rate")
	flag.IntVar(&opts.loco, "loco", 0, "Decoder address for Z21 POM operations")
	flag.IntVar(&opts.maxCV, "max-cv", 0, "Upper bound of the CV range")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Per-operation answer window")
	flag.DurationVar(&opts.pacing, "pacing", 0, "Inter-read delay for paced scans")
	flag.BoolVar(&opts.strictChecksum, "strict-checksum", false, "Reject Z21 frames with a bad checksum")
	flag.StringVar(&opts.protocolLog, "protocol-log", "", "Capture file for the protocol log")
	flag.StringVar(&opts.metaFile, "meta", "", "CV metadata overrides (YAML)")
	flag.StringVar(&opts.sessionDir, "sessions", "", "Directory for persisted scan sessions")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	flag.IntVar(&opts.readCV, "read", 0, "Read one CV and exit")
	flag.StringVar(&opts.writeSpec, "write", "", "Write one CV (cv=value) and exit")
	flag.StringVar(&opts.scanSpec, "scan", "", "Scan a CV range (from-to) and exit")
	flag.BoolVar(&opts.gated, "gated", false, "Wait for each answer during a scan")
	flag.StringVar(&opts.format, "format", "table", "Scan output format: table, csv, json")
	flag.StringVar(&opts.output, "output", "", "Write scan output to a file")
	flag.StringVar(&opts.notes, "notes", "", "Notes attached to a persisted scan session")
	flag.BoolVar(&opts.interactive, "interactive", false, "Enable the interactive console")
	flag.BoolVar(&opts.discover, "discover", false, "Discover stations via mDNS and exit")
	flag.BoolVar(&opts.version, "version", false, "Print the version and exit")
}

func main() {
	flag.Parse()

	if opts.version {
		fmt.Println(version.String())
		return
	}

	if opts.discover {
		if err := runDiscover(); err != nil {
			stdlog.Fatalf("Discovery failed: %v", err)
		}
		return
	}

	cfg, err := resolveConfig()
	if err != nil {
		stdlog.Fatalf("Configuration error: %v", err)
	}

	setupLogging(cfg.LogLevel)

	// Protocol capture. At debug level the traffic is also mirrored
	// to the console via slog.
	var loggers []log.Logger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			stdlog.Fatalf("Failed to open protocol log: %v", err)
		}
		defer fl.Close()
		loggers = append(loggers, fl)
		stdlog.Printf("Capturing protocol traffic to %s", cfg.ProtocolLog)
	}
	if cfg.LogLevel == "debug" {
		slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		loggers = append(loggers, log.NewSlogAdapter(slogger))
	}
	var logger log.Logger = log.NoopLogger{}
	switch len(loggers) {
	case 0:
	case 1:
		logger = loggers[0]
	default:
		logger = log.NewMultiLogger(loggers...)
	}

	// CV metadata
	catalog := meta.NewCatalog()
	if cfg.MetaFile != "" {
		if err := catalog.LoadOverrides(cfg.MetaFile); err != nil {
			stdlog.Fatalf("Failed to load CV metadata: %v", err)
		}
	}

	// Session persistence
	var store *persistence.SessionStore
	if cfg.SessionDir != "" {
		store = persistence.NewSessionStore(cfg.SessionDir)
	}

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		stdlog.Fatalf("Failed to create backend: %v", err)
	}

	mgr := connection.NewManager(backend.Connect)
	mgr.SetAutoReconnect(opts.interactive)
	mgr.OnReconnecting(func(attempt int, delay time.Duration) {
		stdlog.Printf("Connection lost, reconnecting (attempt %d, next try in %s)", attempt, delay)
	})
	mgr.OnConnected(func() {
		stdlog.Printf("Connected to %s", stationLabel(cfg))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	err = mgr.Connect(connectCtx)
	connectCancel()
	if err != nil {
		stdlog.Fatalf("Failed to connect to %s: %v", stationLabel(cfg), err)
	}
	defer func() {
		mgr.Close()
		_ = backend.Disconnect()
	}()

	go watchTransport(ctx, backend, mgr)

	switch {
	case opts.readCV > 0:
		err = runRead(ctx, backend, catalog, cfg, opts.readCV)
	case opts.writeSpec != "":
		err = runWrite(ctx, backend, cfg, opts.writeSpec)
	case opts.scanSpec != "":
		err = runScan(ctx, backend, catalog, store, cfg)
	case opts.interactive:
		err = runInteractive(ctx, cancel, backend, mgr, catalog, store, cfg)
	default:
		flag.Usage()
		err = fmt.Errorf("nothing to do: pass -read, -write, -scan, or -interactive")
	}
	if err != nil {
		stdlog.Fatalf("%v", err)
	}
}

// resolveConfig loads the configuration file and applies the flags the
// user set on top of it.
func resolveConfig() (config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "protocol":
			cfg.Protocol = opts.protocol
		case "host":
			cfg.Host = opts.host
		case "port":
			cfg.Port = opts.port
		case "serial":
			cfg.SerialDevice = opts.serial
		case "baud":
			cfg.BaudRate = opts.baud
		case "loco":
			cfg.LocoAddress = opts.loco
		case "max-cv":
			cfg.MaxCV = opts.maxCV
		case "timeout":
			cfg.Timeout = opts.timeout
		case "pacing":
			cfg.Pacing = opts.pacing
		case "strict-checksum":
			cfg.StrictChecksum = opts.strictChecksum
		case "protocol-log":
			cfg.ProtocolLog = opts.protocolLog
		case "meta":
			cfg.MetaFile = opts.metaFile
		case "sessions":
			cfg.SessionDir = opts.sessionDir
		case "log-level":
			cfg.LogLevel = opts.logLevel
		}
	})

	// A serial device implies DCC-EX unless told otherwise.
	if cfg.SerialDevice != "" && opts.protocol == "" {
		cfg.Protocol = config.ProtocolDCCEX
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildBackend wires transport and backend for the configured protocol.
func buildBackend(cfg config.Config, logger log.Logger) (prog.Backend, error) {
	switch cfg.Protocol {
	case config.ProtocolZ21:
		conn := transport.NewUDPConn(cfg.Addr())
		return prog.NewZ21Backend(conn, prog.Z21Options{
			LocoAddress:    uint16(cfg.LocoAddress),
			MaxCV:          cfg.MaxCV,
			StrictChecksum: cfg.StrictChecksum,
			Logger:         logger,
		}), nil

	case config.ProtocolDCCEX:
		var conn transport.Conn
		if cfg.SerialDevice != "" {
			conn = transport.NewSerialConn(cfg.SerialDevice, cfg.BaudRate)
		} else {
			conn = transport.NewTCPConn(cfg.Addr())
		}
		return prog.NewDCCEXBackend(conn, prog.DCCEXOptions{
			MaxCV:   cfg.MaxCV,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}
}

// watchTransport reports transport-level connection loss to the
// manager so its backoff loop can take over.
func watchTransport(ctx context.Context, backend prog.Backend, mgr *connection.Manager) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := backend.State()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := backend.State()
			if last == transport.StateConnected && state == transport.StateDisconnected {
				mgr.NotifyConnectionLost()
			}
			last = state
		}
	}
}

func runDiscover() error {
	fmt.Println("Discovering command stations (5s)...")
	browser := discovery.NewBrowser(discovery.BrowserConfig{})
	stations, err := browser.FindAll(context.Background(), 5*time.Second)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		fmt.Println("No stations found.")
		fmt.Println("Note: Z21 stations do not advertise via mDNS; configure them with -host.")
		return nil
	}
	for _, s := range stations {
		fmt.Printf("  %s (%s) at %s\n", s.InstanceName, s.ServiceType, s.Addr())
		if v, ok := s.TXT["version"]; ok {
			fmt.Printf("      version: %s\n", v)
		}
	}
	return nil
}

// awaitAnswer waits for the event resolving an operation on cv.
// Unattributed nacks and failures count: the Z21 nack does not name
// the CV it refuses.
func awaitAnswer(ctx context.Context, backend prog.Backend, cfg config.Config, cv int) (prog.Event, bool) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-backend.Events():
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

func runRead(ctx context.Context, backend prog.Backend, catalog *meta.Catalog, cfg config.Config, cv int) error {
	if err := backend.ReadCV(cv); err != nil {
		return fmt.Errorf("read CV %d: %w", cv, err)
	}
	ev, ok := awaitAnswer(ctx, backend, cfg, cv)
	if !ok {
		return fmt.Errorf("CV %d: no answer", cv)
	}
	switch ev.Type {
	case prog.EventReadResult:
		fmt.Printf("CV %d (%s) = %s\n", cv, catalog.Name(cv), catalog.DescribeValue(cv, ev.Value))
		return nil
	case prog.EventNack:
		return fmt.Errorf("CV %d: no acknowledgment from decoder", cv)
	default:
		return fmt.Errorf("CV %d: %s", cv, ev.Message)
	}
}

func runWrite(ctx context.Context, backend prog.Backend, cfg config.Config, spec string) error {
	cvStr, valStr, found := strings.Cut(spec, "=")
	if !found {
		return fmt.Errorf("invalid -write %q (want cv=value)", spec)
	}
	cv, err := strconv.Atoi(strings.TrimSpace(cvStr))
	if err != nil {
		return fmt.Errorf("invalid CV in -write %q", spec)
	}
	value, err := strconv.ParseUint(strings.TrimSpace(valStr), 0, 8)
	if err != nil {
		return fmt.Errorf("invalid value in -write %q", spec)
	}

	if err := backend.WriteCV(cv, byte(value)); err != nil {
		return fmt.Errorf("write CV %d: %w", cv, err)
	}
	ev, ok := awaitAnswer(ctx, backend, cfg, cv)
	if !ok {
		return fmt.Errorf("CV %d: no confirmation", cv)
	}
	switch ev.Type {
	case prog.EventWriteResult:
		fmt.Printf("CV %d = %d written\n", cv, ev.Value)
		return nil
	case prog.EventNack:
		return fmt.Errorf("CV %d: write rejected", cv)
	default:
		return fmt.Errorf("CV %d: %s", cv, ev.Message)
	}
}

func runScan(ctx context.Context, backend prog.Backend, catalog *meta.Catalog, store *persistence.SessionStore, cfg config.Config) error {
	from, to, err := parseScanRange(opts.scanSpec)
	if err != nil {
		return err
	}

	mode := prog.ModePaced
	if opts.gated {
		mode = prog.ModeGated
	}

	stdlog.Printf("Scanning CV %d..%d (%s)", from, to, mode)
	results, err := prog.Scan(ctx, backend, prog.ScanOptions{
		From:   from,
		To:     to,
		Mode:   mode,
		Pacing: cfg.Pacing,
		Progress: func(cv int, value byte, ok bool) {
			if ok {
				stdlog.Printf("  CV %-3d = %d", cv, value)
			} else {
				stdlog.Printf("  CV %-3d   no answer", cv)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}
	stdlog.Printf("Scan complete: %d of %d CVs answered", len(results), to-from+1)

	session := &persistence.Session{
		Station:     stationLabel(cfg),
		Protocol:    cfg.Protocol,
		LocoAddress: cfg.LocoAddress,
		From:        from,
		To:          to,
		Notes:       opts.notes,
	}
	session.SetValues(results)

	if store != nil && len(results) > 0 {
		path, err := store.Save(session)
		if err != nil {
			stdlog.Printf("Warning: failed to persist session: %v", err)
		} else {
			stdlog.Printf("Session saved to %s", path)
		}
	}

	return writeScanOutput(session, catalog)
}

func writeScanOutput(session *persistence.Session, catalog *meta.Catalog) error {
	w := os.Stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.format {
	case "table":
		return export.WriteTable(w, session, catalog)
	case "csv":
		return export.WriteCSV(w, session, catalog)
	case "json":
		return export.WriteJSON(w, session, catalog)
	default:
		return fmt.Errorf("unknown format %q (table, csv, json)", opts.format)
	}
}

func runInteractive(ctx context.Context, cancel context.CancelFunc, backend prog.Backend, mgr *connection.Manager, catalog *meta.Catalog, store *persistence.SessionStore, cfg config.Config) error {
	console, err := interactive.New(interactive.Options{
		Backend: backend,
		Manager: mgr,
		Catalog: catalog,
		Store:   store,
		Config:  cfg,
	})
	if err != nil {
		return fmt.Errorf("failed to create console: %w", err)
	}
	// Route log output through readline to keep the prompt intact.
	stdlog.SetOutput(console.Stdout())
	go console.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		stdlog.Printf("Received signal: %v", sig)
		cancel()
	case <-ctx.Done():
	}

	stdlog.SetOutput(os.Stderr)
	return nil
}

// parseScanRange parses "from-to" or a single CV number.
func parseScanRange(spec string) (int, int, error) {
	fromStr, toStr, found := strings.Cut(spec, "-")
	if !found {
		cv, err := strconv.Atoi(spec)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid -scan %q (want from-to)", spec)
		}
		return cv, cv, nil
	}
	from, err := strconv.Atoi(strings.TrimSpace(fromStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid -scan %q (want from-to)", spec)
	}
	to, err := strconv.Atoi(strings.TrimSpace(toStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid -scan %q (want from-to)", spec)
	}
	return from, to, nil
}

func stationLabel(cfg config.Config) string {
	if cfg.SerialDevice != "" {
		return cfg.SerialDevice
	}
	return cfg.Addr()
}

func setupLogging(level string) {
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	switch level {
	case "debug":
		stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds | stdlog.Lshortfile)
	case "warn", "error":
		stdlog.SetFlags(stdlog.Ltime)
	}
}
