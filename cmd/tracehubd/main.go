// Command tracehubd ingests a Cortex-M trace byte stream from a serial
// port, TCP socket, or capture file, decodes it, and fans the
// reconstructed stream out to any number of TCP listeners.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coresight-tools/tracehub/internal/component"
	"github.com/coresight-tools/tracehub/internal/msg"
	"github.com/coresight-tools/tracehub/internal/orchestrator"
	"github.com/coresight-tools/tracehub/internal/stream"
)

// repeatedFlag accumulates every occurrence of a flag instead of
// keeping only the last, the idiomatic flag.Value pattern for a
// repeatable command-line option.
type repeatedFlag []string

func (r *repeatedFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	var (
		source        = flag.String("source", "", "byte source: tcp:<host:port>, file:<path>, or a serial device path")
		baud          = flag.Uint("baud", 921600, "serial baud rate (ignored for tcp/file sources)")
		demux         = flag.String("demux", "none", "demux layer: none, tpiu, or oflow")
		logLevel      = flag.String("log-level", "info", "minimum log severity: debug, info, warn, error")
		statsInterval = flag.Duration("stats-interval", 5*time.Second, "interval between stats log lines, 0 disables")
		exitOnEOF     = flag.Bool("exit-on-eof", false, "terminate when the source reaches end of stream instead of reopening it")
		itmStreamID   = flag.Uint("itm-stream-id", 1, "TPIU stream-id routed to the ITM decoder")
		itmTag        = flag.Uint("itm-tag", 1, "OFLOW tag routed to the ITM decoder")
	)
	var listenFlags, idFilterFlags repeatedFlag
	flag.Var(&listenFlags, "listen", "repeatable: addr[@tag] to serve, e.g. :3443 or :3442@2; defaults to :3443")
	flag.Var(&idFilterFlags, "id-filter", "repeatable: OFLOW tag / TPIU stream-id to pass to the per-id fan-outs and the ITM decoder; omit to allow all (the raw fan-out is never filtered)")
	flag.Parse()

	if *source == "" {
		fmt.Fprintln(os.Stderr, "tracehubd: -source is required")
		os.Exit(2)
	}

	logger := component.NewStdLogger(parseSeverity(*logLevel))

	open := func() (stream.Source, error) { return openSource(*source, uint32(*baud)) }
	src, err := open()
	if err != nil {
		logger.Logf(component.SevError, "opening source: %v", err)
		if strings.HasPrefix(*source, "file:") {
			os.Exit(4)
		}
		os.Exit(1)
	}

	if len(listenFlags) == 0 {
		listenFlags = repeatedFlag{":3443"}
	}

	cfg := orchestrator.Config{
		Demux:         parseDemux(*demux),
		ITMStreamID:   uint8(*itmStreamID),
		ITMTag:        uint8(*itmTag),
		IDFilter:      parseIDFilter(idFilterFlags),
		Listeners:     parseListeners(listenFlags),
		StatsInterval: *statsInterval,
	}
	if !*exitOnEOF {
		cfg.Reopen = open
	}

	o := orchestrator.New(cfg, src, logger, func(m msg.Message) {
		logger.Logf(component.SevDebug, "message kind=%v channel=%d value=0x%X", m.Kind, m.Channel, m.Value)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.Run(ctx); err != nil && err != context.Canceled {
		logger.Logf(component.SevError, "pipeline stopped: %v", err)
		os.Exit(1)
	}
}

func parseSeverity(s string) component.Severity {
	switch strings.ToLower(s) {
	case "debug":
		return component.SevDebug
	case "warn", "warning":
		return component.SevWarn
	case "error":
		return component.SevError
	default:
		return component.SevInfo
	}
}

func parseDemux(s string) orchestrator.DemuxMode {
	switch strings.ToLower(s) {
	case "tpiu":
		return orchestrator.DemuxTPIU
	case "oflow":
		return orchestrator.DemuxOFLOW
	default:
		return orchestrator.DemuxNone
	}
}

func parseIDFilter(vals []string) map[uint8]bool {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[uint8]bool, len(vals))
	for _, v := range vals {
		n, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			continue
		}
		out[uint8(n)] = true
	}
	return out
}

// parseListeners parses "addr" or "addr@tag" entries into ListenSpecs.
func parseListeners(vals []string) []orchestrator.ListenSpec {
	out := make([]orchestrator.ListenSpec, 0, len(vals))
	for _, v := range vals {
		addr, tagStr, hasTag := strings.Cut(v, "@")
		ls := orchestrator.ListenSpec{Addr: addr}
		if hasTag {
			if n, err := strconv.ParseUint(tagStr, 0, 8); err == nil {
				tag := uint8(n)
				ls.Tag = &tag
			}
		}
		out = append(out, ls)
	}
	return out
}

func openSource(spec string, baud uint32) (stream.Source, error) {
	kind, rest, hasPrefix := strings.Cut(spec, ":")
	if !hasPrefix {
		return stream.OpenSerial(spec, baud)
	}
	switch kind {
	case "tcp":
		return stream.DialTCP(rest)
	case "file":
		return stream.OpenFile(rest)
	case "serial":
		return stream.OpenSerial(rest, baud)
	default:
		return stream.OpenSerial(spec, baud)
	}
}
