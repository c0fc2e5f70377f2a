package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ledgerdb/internal/trace"
	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/envelope"
	"github.com/cuemby/ledgerdb/pkg/keymanager"
	"github.com/cuemby/ledgerdb/pkg/log"
	"github.com/cuemby/ledgerdb/pkg/metrics"
	"github.com/cuemby/ledgerdb/pkg/processor"
	"github.com/cuemby/ledgerdb/pkg/reader"
	"github.com/cuemby/ledgerdb/pkg/types"
	"github.com/cuemby/ledgerdb/pkg/writer"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ledgerctl",
	Short:   "ledgerctl - inspect and drive an embedded event store",
	Long:    `ledgerctl opens a ledgerdb data directory and appends, reads, watches, or administers it.`,
	Version: Version,
}

// cliConfig holds everything a YAML config file (--config) may set; flags
// passed on the command line override whatever the file specifies.
type cliConfig struct {
	DataDir       string `yaml:"data_dir"`
	MasterKeyFile string `yaml:"master_key_file"`
	Encrypt       bool   `yaml:"encrypt"`
	LogLevel      string `yaml:"log_level"`
	LogJSON       bool   `yaml:"log_json"`
}

func loadConfigFile(path string) (cliConfig, error) {
	var cfg cliConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ledgerctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file providing defaults for the flags below")
	rootCmd.PersistentFlags().String("data-dir", "./ledger-data", "Storage directory")
	rootCmd.PersistentFlags().String("master-key-file", "", "Path to a file holding the 32-byte master key (raw or hex-encoded)")
	rootCmd.PersistentFlags().Bool("encrypt", false, "Enable per-stream encryption (requires --master-key-file)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Bool("trace", false, "Log per-operation timing at debug level")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(newStreamCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(shredCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	traceEnabled, _ := rootCmd.PersistentFlags().GetBool("trace")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
	trace.Enabled = traceEnabled
}

// resolveMasterKey reads --master-key-file, accepting either a raw 32-byte
// file or a 64-character hex string (with or without a trailing newline).
func resolveMasterKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master key file: %w", err)
	}
	trimmed := []byte(string(raw))
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == '\r') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if len(trimmed) == 32 {
		return trimmed, nil
	}
	decoded, err := hex.DecodeString(string(trimmed))
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("master key file must contain 32 raw bytes or 64 hex characters")
	}
	return decoded, nil
}

func openEnvironment(cmd *cobra.Command) (*bstore.Environment, error) {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := loadConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	if !cmd.Flags().Changed("data-dir") && fileCfg.DataDir != "" {
		dataDir = fileCfg.DataDir
	}

	masterKeyFile, _ := cmd.Flags().GetString("master-key-file")
	if !cmd.Flags().Changed("master-key-file") && fileCfg.MasterKeyFile != "" {
		masterKeyFile = fileCfg.MasterKeyFile
	}

	encrypt, _ := cmd.Flags().GetBool("encrypt")
	if !cmd.Flags().Changed("encrypt") && fileCfg.Encrypt {
		encrypt = true
	}

	masterKey, err := resolveMasterKey(masterKeyFile)
	if err != nil {
		return nil, err
	}

	return bstore.Open(bstore.Config{
		Path:               dataDir,
		CreateDirIfMissing: true,
		EncryptionEnabled:  encrypt,
		MasterKey:          masterKey,
	})
}

func parseStreamID(s string) (types.StreamID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return types.StreamID{}, fmt.Errorf("invalid stream id %q: %w", s, err)
	}
	b := id[:]
	return types.StreamIDFromBytes(b)
}

var newStreamCmd = &cobra.Command{
	Use:   "new-stream",
	Short: "Mint a fresh stream id",
	RunE: func(cmd *cobra.Command, args []string) error {
		id := uuid.New()
		streamID, err := types.StreamIDFromBytes(id[:])
		if err != nil {
			return err
		}
		fmt.Println(streamID.String())
		return nil
	},
}

var appendCmd = &cobra.Command{
	Use:   "append <stream-id> <version> <payload>",
	Short: "Append one event to a stream",
	Long: fmt.Sprintf(
		"Append one event to a stream. Payloads over %d bytes are routed to\n"+
			"the content-addressed blob store instead of being stored inline.\n"+
			"<version> may be \"auto\" to resolve the next version from a prefix\n"+
			"scan of the stream index; this is advisory only and races against\n"+
			"concurrent writers to the same stream.",
		envelope.InlineThreshold,
	),
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		streamID, err := parseStreamID(args[0])
		if err != nil {
			return err
		}
		expected := types.Auto()
		if args[1] != "auto" {
			var v uint32
			if _, err := fmt.Sscanf(args[1], "%d", &v); err != nil {
				return fmt.Errorf("invalid version %q (use a number or \"auto\"): %w", args[1], err)
			}
			expected = types.Exact(types.StreamVersion(v))
		}

		w := writer.New(env, writer.WithMetrics(metrics.NewCollector()))
		seq := trace.TimedValue("append", func() uint64 {
			s, appendErr := w.AppendExpected(streamID, expected, []byte(args[2]))
			err = appendErr
			return s
		})
		if err != nil {
			return err
		}
		fmt.Printf("appended at global sequence %d\n", seq)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <stream-id> <version>",
	Short: "Read one event by (stream-id, version)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		streamID, err := parseStreamID(args[0])
		if err != nil {
			return err
		}
		var version uint32
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}

		r := reader.New(env, reader.WithMetrics(metrics.NewCollector()))
		var view *reader.EventView
		err = r.WithReadTxn(func(txn *bstore.ReadTxn) error {
			view, err = r.GetByStream(txn, streamID, types.StreamVersion(version))
			return err
		})
		if err != nil {
			return err
		}
		if view == nil {
			fmt.Println("not found")
			return nil
		}
		fmt.Printf("seq=%d stream=%s version=%d payload=%q\n", view.Seq, view.StreamID, view.Version, view.Payload)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <consumer-id>",
	Short: "Tail the log as a named consumer, printing each event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		var consumerID uint64
		if _, err := fmt.Sscanf(args[0], "%d", &consumerID); err != nil {
			return fmt.Errorf("invalid consumer id %q: %w", args[0], err)
		}
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		batchTimeout, _ := cmd.Flags().GetDuration("batch-timeout")

		r := reader.New(env, reader.WithMetrics(metrics.NewCollector()))
		collector := metrics.NewCollector()
		handler := func(view *reader.EventView) error {
			fmt.Printf("seq=%d stream=%s version=%d payload=%q\n", view.Seq, view.StreamID, view.Version, view.Payload)
			return nil
		}
		p := processor.New(r, handler, consumerID, processor.Config{
			BatchSize:    batchSize,
			BatchTimeout: batchTimeout,
			Metrics:      collector.ForConsumer(consumerID),
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Int("batch-size", processor.DefaultBatchSize, "Events per cursor commit")
	watchCmd.Flags().Duration("batch-timeout", processor.DefaultBatchTimeout, "Max time a batch stays open before committing")
}

var shredCmd = &cobra.Command{
	Use:   "shred <stream-id>",
	Short: "Crypto-shred a stream's key, permanently destroying access to its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		streamID, err := parseStreamID(args[0])
		if err != nil {
			return err
		}
		km := keymanager.New(env)
		if err := km.Delete(streamID); err != nil {
			return err
		}
		fmt.Printf("stream %s shredded\n", streamID)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Prometheus metrics and health endpoints over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		metrics.RegisterComponent("bstore", true, "opened")
		metrics.SetVersion(Version)

		addr, _ := cmd.Flags().GetString("metrics-addr")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		server := &http.Server{Addr: addr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		fmt.Printf("serving metrics on http://%s/metrics\n", addr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
		case err := <-errCh:
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics and health endpoints on")
}
