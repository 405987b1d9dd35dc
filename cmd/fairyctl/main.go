// Command fairyctl controls Hello Fairy BLE lamps from the command line, a
// global hotkey, or Home Assistant over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/chaz8081/fairyctl/internal/ble"
	"github.com/chaz8081/fairyctl/internal/ble/protocol"
	"github.com/chaz8081/fairyctl/internal/bridge"
	"github.com/chaz8081/fairyctl/internal/config"
	"github.com/chaz8081/fairyctl/internal/hotkey"
	"github.com/chaz8081/fairyctl/internal/lamp"
	"github.com/chaz8081/fairyctl/internal/logging"
	"github.com/chaz8081/fairyctl/internal/mqtt"
)

var errNotAccepted = errors.New("lamp did not accept the command (see log)")

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// app carries state shared by every subcommand.
type app struct {
	cfgPath  string
	logLevel string
	address  string

	cfg     *config.Config
	log     *slog.Logger
	adapter ble.Adapter
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "fairyctl",
		Short:         "Control Hello Fairy Bluetooth lamps",
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to config file (default: ~/.config/fairyctl/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.address, "address", "", "lamp BLE address (default: first configured lamp, else strongest scanned)")

	root.AddCommand(
		a.scanCmd(),
		a.powerCmd("on", true),
		a.powerCmd("off", false),
		a.brightnessCmd(),
		a.colorCmd(),
		a.rawCmd(),
		a.bridgeCmd(),
		a.hotkeyCmd(),
		a.initConfigCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the config file, then applies flags the user actually set.
func (a *app) setup(cmd *cobra.Command) error {
	path := a.cfgPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	if changed["log-level"] {
		cfg.LogLevel = a.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	a.cfg = cfg
	a.log = logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	a.adapter = ble.NewTinyGoAdapter()
	a.log.Debug("config loaded", "path", path, "lamps", len(cfg.Lamps))
	return nil
}

func (a *app) lampOptions() lamp.Options {
	return lamp.Options{
		Logger: a.log,
		Connect: ble.ConnectOptions{
			MaxAttempts:    a.cfg.BLE.MaxAttempts,
			AttemptTimeout: a.cfg.BLE.ConnectTimeout,
			BackoffBase:    a.cfg.BLE.BackoffBase,
			BackoffMax:     a.cfg.BLE.BackoffMax,
			Logger:         a.log,
		},
		PairDelay:   a.cfg.Lamp.PairDelay,
		PowerSettle: a.cfg.Lamp.PowerSettle,
	}
}

// target resolves the lamp a command acts on: --address, then the first
// configured lamp, then the strongest lamp found by a scan.
func (a *app) target(ctx context.Context) (*lamp.Lamp, error) {
	var dev ble.Device
	switch {
	case a.address != "":
		dev = ble.Device{Address: a.address}
		if entry, ok := a.cfg.FindLamp(a.address); ok {
			dev.Name = entry.Name
		}
	case len(a.cfg.Lamps) > 0:
		dev = ble.Device{Name: a.cfg.Lamps[0].Name, Address: a.cfg.Lamps[0].Address}
	default:
		a.log.Info("no lamp configured, scanning", "timeout", a.cfg.BLE.ScanTimeout)
		found, err := ble.ScanForLamps(ctx, a.adapter, a.cfg.BLE.ScanTimeout)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, errors.New("no Hello Fairy lamp found; pass --address or add one to the config")
		}
		dev = found[0]
	}
	return lamp.New(a.adapter, dev, a.lampOptions()), nil
}

// withLamp runs fn against the target lamp and disconnects afterwards.
func (a *app) withLamp(cmd *cobra.Command, fn func(ctx context.Context, l *lamp.Lamp) bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, err := a.target(ctx)
	if err != nil {
		return err
	}
	defer l.Disconnect()

	if !fn(ctx, l) {
		return errNotAccepted
	}
	fmt.Println(l)
	return nil
}

func (a *app) scanCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby lamps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("timeout") {
				timeout = a.cfg.BLE.ScanTimeout
			}
			found, err := ble.ScanForLamps(cmd.Context(), a.adapter, timeout)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("No lamps found.")
				return nil
			}
			for _, d := range found {
				fmt.Printf("%-18s %-24s %4d dBm\n", d.Address, d.Name, d.RSSI)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to scan")
	return cmd
}

func (a *app) powerCmd(name string, on bool) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "Turn the lamp " + name,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLamp(cmd, func(ctx context.Context, l *lamp.Lamp) bool {
				if on {
					return l.TurnOn(ctx)
				}
				return l.TurnOff(ctx)
			})
		},
	}
}

func (a *app) brightnessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "brightness <0-100>",
		Short: "Set brightness, keeping the current color",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("brightness: %w", err)
			}
			return a.withLamp(cmd, func(ctx context.Context, l *lamp.Lamp) bool {
				return l.SetBrightness(ctx, v)
			})
		},
	}
}

func (a *app) colorCmd() *cobra.Command {
	var brightness int
	cmd := &cobra.Command{
		Use:   "color <r> <g> <b>",
		Short: "Set the color (each channel 0-255)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rgb [3]int
			for i, s := range args {
				v, err := strconv.Atoi(s)
				if err != nil {
					return fmt.Errorf("color channel %d: %w", i, err)
				}
				rgb[i] = v
			}
			c := lamp.ClampColor(rgb[0], rgb[1], rgb[2])
			// A one-shot session has no cached brightness to keep, so the
			// combined frame is always sent.
			return a.withLamp(cmd, func(ctx context.Context, l *lamp.Lamp) bool {
				return l.SetColorBrightness(ctx, c, brightness)
			})
		},
	}
	cmd.Flags().IntVar(&brightness, "brightness", 100, "brightness 0-100 sent in the same frame")
	return cmd
}

func (a *app) rawCmd() *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "raw <hex>",
		Short: "Write a raw framed payload, e.g. aa020101bb",
		Long: "Write a raw framed payload to the control characteristic.\n" +
			"Useful for checking frame encodings against real hardware; the observed\n" +
			"reference color frame is " + protocol.ReferenceColorFrame.String() + ".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := protocol.ParseHex(args[0])
			if err != nil {
				return err
			}
			return a.withLamp(cmd, func(ctx context.Context, l *lamp.Lamp) bool {
				return l.SendFrame(ctx, frame, delay)
			})
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "wait after the write")
	return cmd
}

func (a *app) bridgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Expose configured lamps to Home Assistant over MQTT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Lamps) == 0 {
				return errors.New("bridge: no lamps configured")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := mqtt.Connect(a.cfg.MQTT, a.log)
			if err != nil {
				return err
			}
			defer client.Close()

			opts := bridge.DefaultOptions(client.Topics())
			opts.QoS = client.QoS()
			opts.Logger = a.log
			b := bridge.New(client, opts)

			lamps := make([]*lamp.Lamp, 0, len(a.cfg.Lamps))
			for _, entry := range a.cfg.Lamps {
				name := entry.Name
				if name == "" {
					name = entry.Address
				}
				l := lamp.New(a.adapter, ble.Device{Name: name, Address: entry.Address}, a.lampOptions())
				b.Add(name, l)
				lamps = append(lamps, l)
			}

			if err := b.Start(ctx); err != nil {
				return err
			}
			a.log.Info("bridge running, Ctrl+C to quit", "broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Host, a.cfg.MQTT.Port))

			<-ctx.Done()
			a.log.Info("shutting down")
			b.Stop()
			for _, l := range lamps {
				l.Disconnect()
			}
			return nil
		},
	}
}

func (a *app) hotkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hotkey",
		Short: "Toggle a lamp with a global hotkey",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.address == "" && a.cfg.Hotkey.Lamp != "" {
				a.address = a.cfg.Hotkey.Lamp
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			l, err := a.target(ctx)
			if err != nil {
				return err
			}

			listener := hotkey.NewListener(a.cfg.Hotkey.Keys, a.cfg.Hotkey.Mode)
			go listener.Start()
			go hotkey.Drive(ctx, listener.Events(), l, a.log)

			a.log.Info("hotkey ready, Ctrl+C to quit",
				"keys", strings.Join(a.cfg.Hotkey.Keys, "+"), "mode", a.cfg.Hotkey.Mode, "lamp", l.Address())

			<-ctx.Done()
			a.log.Info("shutting down")
			l.Disconnect()
			// Exit directly to avoid gohook's C cleanup crash.
			// The OS reclaims the event hook on process exit.
			os.Exit(0)
			return nil
		},
	}
}

func (a *app) initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Println("Config already exists at", config.DefaultConfigPath())
				return nil
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
}
