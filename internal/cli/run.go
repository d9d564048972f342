package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forward/river/pkg/query"
	"github.com/forward/river/pkg/record"
	"github.com/forward/river/pkg/source"
	"github.com/forward/river/pkg/stage"
)

// envelope is the wire form of one input event. Bare JSON objects on stdin are treated as
// inserts into the default stream.
type envelope struct {
	Op     string        `json:"op"`
	Stream string        `json:"stream,omitempty"`
	Record record.Record `json:"record"`
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a query over records read from stdin",
		Long: "Run compiles the query, reads JSON lines from stdin (bare objects as inserts, or " +
			"{\"op\":...,\"record\":...} envelopes), pushes them into the input stream, and prints " +
			"result deltas as JSON lines on stdout.",
		// Binding at execution time keeps the flag sets of sibling commands from fighting
		// over shared viper keys.
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	runCmd.Flags().StringP("file", "f", "", "Query file (YAML or JSON).")
	runCmd.Flags().String("stream", "", "Default stream for input events (defaults to the "+
		"single stream the query reads, if unambiguous).")
	runCmd.Flags().String("metrics-addr", "", "Address for the Prometheus metrics endpoint "+
		"(disabled when empty).")

	return runCmd
}

func runQuery(in io.Reader, out io.Writer) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	file := viper.GetString("file")
	if file == "" {
		return fmt.Errorf("no query file: use --file or RIVER_FILE")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read query file %q: %w", file, err)
	}
	q, err := query.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse query file %q: %w", file, err)
	}

	defStream := viper.GetString("stream")
	if defStream == "" {
		streams := q.Streams()
		if len(streams) == 1 {
			defStream = streams[0]
		}
	}

	if addr := viper.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(err, "metrics server failed", "address", addr)
			}
		}()
		defer server.Close() //nolint:errcheck
	}

	registry := source.NewRegistry(log)
	ctx := stage.NewEnv(registry, log)

	sel, err := stage.NewSelect(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to build query pipeline: %w", err)
	}
	defer sel.Stop()

	sel.Pass(newPrinter(out))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, err := decodeEvent(line)
		if err != nil {
			log.Error(err, "skipping malformed input line")
			continue
		}

		name := ev.Stream
		if name == "" {
			name = defStream
		}
		if name == "" {
			log.Error(fmt.Errorf("no stream for event"),
				"skipping input line: set --stream or a per-event stream")
			continue
		}

		stream := registry.Stream(name)
		switch ev.Op {
		case "insert":
			stream.Insert(ev.Record)
		case "remove":
			stream.Remove(ev.Record)
		default:
			log.Error(fmt.Errorf("unknown op %q", ev.Op), "skipping input line")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	return nil
}

func decodeEvent(line []byte) (*envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	op, hasOp := raw["op"].(string)
	_, hasRec := raw["record"]
	if !hasOp || !hasRec {
		// Bare object: an insert of the object itself.
		return &envelope{Op: "insert", Record: record.Record(raw)}, nil
	}

	ev := envelope{Op: op}
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}
	if ev.Record == nil {
		return nil, fmt.Errorf("event envelope has no record")
	}

	return &ev, nil
}

// printer is the terminal stage of the CLI pipeline, writing result deltas as JSON lines.
type printer struct {
	enc *json.Encoder
}

func newPrinter(out io.Writer) *printer {
	return &printer{enc: json.NewEncoder(out)}
}

func (p *printer) Insert(rec record.Record) error {
	return p.enc.Encode(envelope{Op: "insert", Record: rec})
}

func (p *printer) Remove(rec record.Record) error {
	return p.enc.Encode(envelope{Op: "remove", Record: rec})
}

func (p *printer) InsertRemove(ins, rem record.Record) error {
	if err := p.Remove(rem); err != nil {
		return err
	}
	return p.Insert(ins)
}

func (p *printer) Pass(next stage.Stage) stage.Stage { return next }

func (p *printer) Stop() {}
