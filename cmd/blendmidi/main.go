// Package main is the entry point for the blendmidi CLI
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/james-see/blendmidi/pkg/api"
	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/codec/devices"
	"github.com/james-see/blendmidi/pkg/config"
	"github.com/james-see/blendmidi/pkg/engine"
	"github.com/james-see/blendmidi/pkg/telemetry"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	"gopkg.in/yaml.v3"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath  string
	surfaceName string
	logLevel    string
	inPort      string
	outPort     string
	recordPath  string
	serverPort  int
	controller  int
	frameTime   uint32
	withAPI     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "blendmidi",
	Short: "MIDI control surface bridge for Blender",
	Long: `blendmidi connects a MIDI control surface to Blender. It decodes incoming
MIDI 1.0 traffic into per-channel events (joining 14-bit controller pairs),
maps trigger messages such as the Mackie jog wheel to fader moves and sends
the surface its connect sequence when a stream starts.

Examples:
  blendmidi run --surface mackie --record session.mid
  blendmidi decode "B0 07 40" "B0 27 00"
  blendmidi encode value 0.5
  blendmidi encode sysex 1 1 "Hello"
  blendmidi init-sequence --surface mackie
  blendmidi monitor
  blendmidi serve --port 8080`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bridge the surface until interrupted",
	RunE:  runBridge,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <hex frame>...",
	Short: "Decode hex frames as one batch",
	Long:  `Each argument is one frame, e.g. "90 3C 64". Frames are decoded in order as a single batch.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDecode,
}

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build outbound frames",
}

var encodeValueCmd = &cobra.Command{
	Use:   "value <0..1>",
	Short: "Print the 7/7 wire bytes of a normalized value",
	Args:  cobra.ExactArgs(1),
	RunE:  runEncodeValue,
}

var encodePitchBendCmd = &cobra.Command{
	Use:   "pitchbend <channel> <0..1>",
	Short: "Build a pitch bend frame, or a 14-bit controller pair with --controller",
	Args:  cobra.ExactArgs(2),
	RunE:  runEncodePitchBend,
}

var encodeSysexCmd = &cobra.Command{
	Use:   "sysex <lcd 1-8> <line 1-2> <text>",
	Short: "Build a Mackie LCD text frame",
	Args:  cobra.ExactArgs(3),
	RunE:  runEncodeSysex,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI input and output ports",
	RunE:  runPorts,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Launch the interactive event monitor",
	RunE:  runMonitor,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

var initSequenceCmd = &cobra.Command{
	Use:   "init-sequence",
	Short: "Print the connect sequence sent to the surface",
	RunE:  runInitSequence,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE:  runConfigInit,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Config file path")
	rootCmd.PersistentFlags().StringVarP(&surfaceName, "surface", "s", "", "Control surface ("+strings.Join(devices.Names(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// run command
	runCmd.Flags().StringVar(&inPort, "in", "", "Input port name (default: first port)")
	runCmd.Flags().StringVar(&outPort, "out", "", "Output port name (default: first port)")
	runCmd.Flags().StringVarP(&recordPath, "record", "r", "", "Write received frames to this .mid file on exit")
	runCmd.Flags().BoolVar(&withAPI, "serve", false, "Serve the API and metrics while running")

	// monitor command
	monitorCmd.Flags().StringVar(&inPort, "in", "", "Input port name (default: first port)")
	monitorCmd.Flags().StringVar(&outPort, "out", "", "Output port name (default: first port)")

	// encode commands
	encodePitchBendCmd.Flags().IntVar(&controller, "controller", -1, "Encode as a 14-bit controller pair (0-31)")
	encodePitchBendCmd.Flags().Uint32VarP(&frameTime, "time", "t", 0, "Block-relative timestamp")
	encodeSysexCmd.Flags().Uint32VarP(&frameTime, "time", "t", 0, "Block-relative timestamp")

	// serve command
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (default from config)")

	// Add commands
	encodeCmd.AddCommand(encodeValueCmd, encodePitchBendCmd, encodeSysexCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initSequenceCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the config file and applies the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if surfaceName != "" {
		cfg.Surface = surfaceName
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if inPort != "" {
		cfg.Backend.InPort = inPort
	}
	if outPort != "" {
		cfg.Backend.OutPort = outPort
	}
	if recordPath != "" {
		cfg.RecordPath = recordPath
	}
	if serverPort != 0 {
		cfg.API.Port = serverPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the async logger described by cfg. The returned func
// flushes pending records.
func newLogger(w io.Writer, cfg *config.Config, metrics *telemetry.Metrics) (*slog.Logger, func()) {
	level, _ := telemetry.ParseLevel(cfg.Log.Level)
	opts := telemetry.LoggerOptions{
		Level:  level,
		JSON:   cfg.Log.JSON,
		Buffer: cfg.Log.Buffer,
	}
	if metrics != nil {
		opts.OnDrop = metrics.LogDropped.Inc
	}
	logger, async := telemetry.NewLogger(w, opts)
	return logger, async.Close
}

func cliLogger() *slog.Logger {
	level, err := telemetry.ParseLevel(logLevel)
	if err != nil || logLevel == "" {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runDecode(cmd *cobra.Command, args []string) error {
	frames := make([]codec.RawFrame, 0, len(args))
	for i, a := range args {
		f, err := codec.ParseFrame(a, uint32(i))
		if err != nil {
			return err
		}
		frames = append(frames, f)
	}

	out := cmd.OutOrStdout()
	for i, f := range frames {
		fmt.Fprintf(out, "[%d] %-12s %s\n", i, f.Hex(), midi.Message(f.Bytes()).String())
	}
	fmt.Fprintln(out)

	res, err := codec.NewDecoder(cliLogger(), nil).Decode(frames)
	for ch := uint8(1); ch <= codec.NumChannels; ch++ {
		for _, ev := range res.Events.For(ch) {
			fmt.Fprintf(out, "%s\n", ev)
		}
	}
	for _, c := range res.Conditions {
		fmt.Fprintf(out, "! %s: %s\n", c.Kind, c.Error())
	}
	if errors.Is(err, codec.ErrFatalShutdown) {
		fmt.Fprintln(out, "! fatal shutdown requested, later frames ignored")
		return nil
	}
	return err
}

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("value %v not in [0,1]", v)
	}
	return v, nil
}

func parseIndex(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return n, nil
}

func runEncodeValue(cmd *cobra.Command, args []string) error {
	v, err := parseValue(args[0])
	if err != nil {
		return err
	}
	lsb, msb := codec.ValueToWireBytes(v)
	fmt.Fprintf(cmd.OutOrStdout(), "lsb=%02X msb=%02X (decodes to %.6f)\n", lsb, msb, codec.WireBytesToValue(lsb, msb))
	return nil
}

func runEncodePitchBend(cmd *cobra.Command, args []string) error {
	ch, err := parseIndex("channel", args[0])
	if err != nil {
		return err
	}
	if ch < 1 || ch > codec.NumChannels {
		return fmt.Errorf("channel %d not in 1..%d", ch, codec.NumChannels)
	}
	v, err := parseValue(args[1])
	if err != nil {
		return err
	}

	enc := codec.NewEncoder(0)
	out := cmd.OutOrStdout()
	if controller >= 0 {
		if controller > 0x7F {
			return fmt.Errorf("controller %d out of range", controller)
		}
		pair, err := enc.ControlChange14(uint8(ch), uint8(controller), v, frameTime)
		if err != nil {
			return err
		}
		for _, f := range pair {
			fmt.Fprintln(out, f.Hex())
		}
		return nil
	}
	f, err := enc.PitchBend(uint8(ch), v, frameTime)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, f.Hex())
	return nil
}

func runEncodeSysex(cmd *cobra.Command, args []string) error {
	lcd, err := parseIndex("lcd", args[0])
	if err != nil {
		return err
	}
	line, err := parseIndex("line", args[1])
	if err != nil {
		return err
	}
	f, err := codec.NewEncoder(0).SysexText(lcd, line, args[2], frameTime)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), f.Hex())
	return nil
}

func runPorts(cmd *cobra.Command, args []string) error {
	defer midi.CloseDriver()
	fmt.Fprint(cmd.OutOrStdout(), engine.DescribePorts())
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	metrics := telemetry.NewMetrics()
	logger, flush := newLogger(os.Stderr, cfg, metrics)
	defer flush()

	fmt.Printf("Starting API server on port %d...\n", cfg.API.Port)
	return api.StartServer(cfg.API.Port, &api.Service{
		Logger:    logger,
		Metrics:   metrics,
		BlockSize: uint32(cfg.Backend.BlockSize),
	})
}

func runInitSequence(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	surface, err := devices.Lookup(cfg.Surface)
	if err != nil {
		return err
	}
	seq, err := devices.NewInitializer(surface, codec.NewEncoder(uint32(cfg.Backend.BlockSize))).BuildConnectSequence()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d frames\n", surface.Name(), len(seq))
	for _, f := range seq {
		fmt.Fprintln(out, f.Hex())
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config %s already exists", configPath)
	}
	if err := config.Default().Save(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return nil
}
