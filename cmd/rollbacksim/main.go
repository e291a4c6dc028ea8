// rollbacksim drives the factory rollback bootloader on a simulated board
// whose flash content is kept in a state directory across power cycles.
//
//	rollbacksim mkimage app.bin app.hex --version 1.2.0
//	rollbacksim provision --factory factory.hex.xz --primary app.hex
//	rollbacksim boot --hold-button
//	rollbacksim dump primary_1 primary.bin --trim
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-factoryboot/bootloader"
	"github.com/moffa90/go-factoryboot/flashmap"
	"github.com/moffa90/go-factoryboot/image"
	"github.com/moffa90/go-factoryboot/imagefile"
	"github.com/moffa90/go-factoryboot/sim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	o := &globalOptions{}

	root := &cobra.Command{
		Use:           "rollbacksim",
		Short:         "Factory rollback bootloader simulator",
		Long:          "Build images, provision simulated flash and run bootloader power cycles against it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.stateDir, "state", "rollbacksim-state", "directory holding the simulated flash images")
	pf.IntVar(&o.images, "images", 1, "number of image pairs (1 or 2)")
	pf.BoolVar(&o.scratch, "scratch", false, "use the swap-using-scratch layout")
	pf.BoolVar(&o.secondaryInternal, "secondary-internal", false, "place secondary slots in internal flash")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&o.logFormat, "log-format", "text", "log format: text|json")

	root.AddCommand(
		newMapCommand(o),
		newMkimageCommand(o),
		newProvisionCommand(o),
		newBootCommand(o),
		newDumpCommand(o),
	)
	return root
}

func newMapCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Print the partition table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := flashmap.New(o.layout())
			if err != nil {
				return err
			}
			return printMap(cmd.OutOrStdout(), m)
		},
	}
}

func printMap(w io.Writer, m *flashmap.Map) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tNAME\tBASE\tSIZE\tERASE")
	for _, d := range m.Devices() {
		fmt.Fprintf(tw, "%s\t%s\t0x%08X\t0x%X\t0x%X\n", d.ID, d.Name, d.Base, d.Size, d.EraseSize)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "AREA\tDEVICE\tOFFSET\tSIZE")
	areas := m.Areas()
	if fr, ok := m.FactoryRegion(); ok {
		areas = append(areas, fr)
	}
	for _, a := range areas {
		fmt.Fprintf(tw, "%s\t%s\t0x%08X\t0x%X\n", a.ID, a.Device, a.Offset, a.Size)
	}
	return tw.Flush()
}

func newMkimageCommand(o *globalOptions) *cobra.Command {
	var (
		versionStr string
		loadAddr   uint32
		headerSize uint16
		pad        uint32
		base       uint32
		compress   bool
	)

	cmd := &cobra.Command{
		Use:   "mkimage PAYLOAD OUT",
		Short: "Wrap a payload into a bootable image",
		Long: "Wrap a raw payload (bin or Intel HEX, optionally .xz) into an image with a header\n" +
			"and a SHA-256 trailer. The output format follows the OUT extension.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr(), o.logFormat, o.verbose)
			if err != nil {
				return err
			}

			version, err := image.ParseVersion(versionStr)
			if err != nil {
				return err
			}

			in, err := imagefile.Parse(args[0])
			if err != nil {
				return err
			}

			img, err := image.Build(in.Data, image.BuildOptions{
				HeaderSize: headerSize,
				LoadAddr:   loadAddr,
				Version:    version,
				PadTo:      pad,
			})
			if err != nil {
				return err
			}

			if err := imagefile.Save(args[1], &imagefile.File{Base: base, Data: img}, compress); err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"payload": len(in.Data),
				"image":   len(img),
				"version": version.String(),
			}).Infof("wrote %s", args[1])
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&versionStr, "version", "0.0.0+0", "image version major.minor.revision+build")
	f.Uint32Var(&loadAddr, "load-addr", 0, "load address stored in the header")
	f.Uint16Var(&headerSize, "header-size", image.DefaultHeaderSize, "header area size")
	f.Uint32Var(&pad, "pad", 0, "pad the image with 0xFF up to this size")
	f.Uint32Var(&base, "base", flashmap.DefaultInternalBase+flashmap.DefaultBootloaderSize, "address of the first byte in Intel HEX output")
	f.BoolVar(&compress, "xz", false, "compress the output with xz")
	return cmd
}

func newProvisionCommand(o *globalOptions) *cobra.Command {
	var (
		factoryPath  string
		primaryPath  string
		erasePrimary bool
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Write the factory image, and optionally an application, into simulated flash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(cmd.ErrOrStderr(), o.logFormat, o.verbose)
			if err != nil {
				return err
			}

			b, err := openBoard(o, nil)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			factory, err := imagefile.Parse(factoryPath)
			if err != nil {
				return err
			}
			fr, _ := b.Map.FactoryRegion()
			checkBase(log, factory, fr)
			if err := b.LoadFactory(factory.Data); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"bytes": len(factory.Data), "region": fr.String()}).Info("factory image provisioned")

			primary := flashmap.AreaPrimary(0)
			switch {
			case primaryPath != "":
				app, err := imagefile.Parse(primaryPath)
				if err != nil {
					return err
				}
				area, _ := b.Map.Lookup(primary)
				checkBase(log, app, area)
				if err := b.LoadArea(primary, app.Data); err != nil {
					return err
				}
				log.WithFields(logrus.Fields{"bytes": len(app.Data), "area": area.String()}).Info("application provisioned")

			case erasePrimary:
				if err := b.EraseArea(primary); err != nil {
					return err
				}
				log.WithField("area", primary.String()).Info("primary slot erased")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&factoryPath, "factory", "", "factory image (bin or hex, optionally .xz)")
	f.StringVar(&primaryPath, "primary", "", "application image for the primary slot")
	f.BoolVar(&erasePrimary, "erase-primary", false, "erase the primary slot when no application is given")
	_ = cmd.MarkFlagRequired("factory")
	return cmd
}

// checkBase warns when a HEX file was linked for another address. Its data
// is written at the start of the area regardless.
func checkBase(log *logrus.Logger, f *imagefile.File, a flashmap.Area) {
	if f.Format == imagefile.FormatHex && f.Base != a.Offset {
		log.WithFields(logrus.Fields{
			"base": fmt.Sprintf("0x%08X", f.Base),
			"area": a.String(),
		}).Warn("HEX base address does not match the target area")
	}
}

func newBootCommand(o *globalOptions) *cobra.Command {
	var (
		holdButton   bool
		pressAfter   time.Duration
		timeout      time.Duration
		chunkSize    int
		flushTimeout time.Duration
		noButton     bool
	)

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Run one power cycle of the bootloader",
		Long: "Run one power cycle of the bootloader against the state directory.\n" +
			"With no valid application and no button press the bootloader waits; use\n" +
			"--press-after or --timeout, or interrupt it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBoard(o, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			log, err := newLogger(consoleWriter{console: b.Console, fallback: cmd.ErrOrStderr()}, o.logFormat, o.verbose)
			if err != nil {
				return err
			}

			opts := []bootloader.Option{
				bootloader.WithLogger(logrusLogger{entry: logrus.NewEntry(log)}),
				bootloader.WithProgressCallback(progressLogger(log)),
				bootloader.WithFlushTimeout(flushTimeout),
			}
			if chunkSize != 0 {
				opts = append(opts, bootloader.WithChunkSize(chunkSize))
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			if noButton {
				b.Button.Disconnect()
			}
			if holdButton {
				b.Button.Press()
				defer b.Button.Release()
			}
			if pressAfter > 0 {
				t := b.Button.ClickAfter(pressAfter)
				defer t.Stop()
			}

			out, core, err := b.PowerOn(ctx, opts...)
			printOutcome(cmd.OutOrStdout(), out, core)
			return err
		},
	}

	f := cmd.Flags()
	f.BoolVar(&holdButton, "hold-button", false, "hold the user button at power-on")
	f.DurationVar(&pressAfter, "press-after", 0, "click the user button after this delay")
	f.DurationVar(&timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	f.IntVar(&chunkSize, "chunk-size", 0, "factory transfer chunk size (default 512)")
	f.DurationVar(&flushTimeout, "flush-timeout", bootloader.DefaultFlushTimeout, "bound on the console flush before handoff")
	f.BoolVar(&noButton, "no-button", false, "simulate a board without a user button line")
	return cmd
}

// progressLogger logs transfer progress at debug level, every phase change
// and every ten percent of the copy.
func progressLogger(log *logrus.Logger) bootloader.ProgressCallback {
	lastPhase, lastStep := "", -1
	return func(p bootloader.Progress) {
		step := int(p.Percentage) / 10
		if p.Phase == lastPhase && step == lastStep {
			return
		}
		lastPhase, lastStep = p.Phase, step
		log.WithFields(logrus.Fields{
			"phase":   p.Phase,
			"chunk":   fmt.Sprintf("%d/%d", p.CurrentChunk, p.TotalChunks),
			"bytes":   p.BytesCopied,
			"percent": fmt.Sprintf("%.1f", p.Percentage),
			"elapsed": p.ElapsedTime.Round(time.Millisecond).String(),
		}).Debug("transfer progress")
	}
}

func printOutcome(w io.Writer, out *bootloader.Outcome, core *sim.Core) {
	if out == nil {
		return
	}
	states := make([]string, len(out.States))
	for i, s := range out.States {
		states[i] = s.String()
	}

	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "path:\t%s\n", out.Path)
	fmt.Fprintf(tw, "states:\t%s\n", strings.Join(states, " -> "))
	fmt.Fprintf(tw, "rolled back:\t%t\n", out.RolledBack)
	if out.Label != "" {
		fmt.Fprintf(tw, "booted:\t%s\n", out.Label)
	}
	if out.Response != nil && out.Response.Header != nil {
		fmt.Fprintf(tw, "version:\t%s\n", out.Response.Header.Version)
	}
	if out.Entry != 0 {
		fmt.Fprintf(tw, "entry:\t0x%08X\n", out.Entry)
	}
	if core != nil {
		fmt.Fprintf(tw, "halted:\t%t\n", core.Halted())
	}
	_ = tw.Flush()
}

func newDumpCommand(o *globalOptions) *cobra.Command {
	var (
		trim     bool
		compress bool
	)

	cmd := &cobra.Command{
		Use:   "dump AREA OUT",
		Short: "Dump a flash area to a bin or hex file",
		Long:  "Dump a flash area (bootloader, primary_1, secondary_1, scratch, primary_2, secondary_2, factory).",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr(), o.logFormat, o.verbose)
			if err != nil {
				return err
			}

			id, err := flashmap.ParseAreaID(args[0])
			if err != nil {
				return err
			}

			b, err := openBoard(o, nil)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			data, area, err := readArea(b, id)
			if err != nil {
				return err
			}
			if trim {
				dev, _ := b.Map.Device(area.Device)
				data = trimErased(data, dev.ErasedValue)
				if len(data) == 0 {
					return fmt.Errorf("%s is erased", id)
				}
			}

			if err := imagefile.Save(args[1], &imagefile.File{Base: area.Offset, Data: data}, compress); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"area": area.String(), "bytes": len(data)}).Infof("wrote %s", args[1])
			return nil
		},
	}

	cmd.Flags().BoolVar(&trim, "trim", false, "drop trailing erased bytes")
	cmd.Flags().BoolVar(&compress, "xz", false, "compress the output with xz")
	return cmd
}

func readArea(b *stateBoard, id flashmap.AreaID) ([]byte, flashmap.Area, error) {
	h, err := b.Flash.Open(id)
	if err != nil {
		return nil, flashmap.Area{}, err
	}
	defer func() { _ = h.Close() }()

	area := h.Area()
	data := make([]byte, area.Size)
	if err := h.Read(0, data); err != nil {
		return nil, area, fmt.Errorf("read %s: %w", id, err)
	}
	return data, area, nil
}

func trimErased(data []byte, erased byte) []byte {
	n := len(data)
	for n > 0 && data[n-1] == erased {
		n--
	}
	return data[:n]
}
