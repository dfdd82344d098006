package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/klassen-software-solutions/KSSModbus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Modbus TCP server",
	Long: `Serve a Modbus TCP address space described by the four object
ranges. A range with count 0 is not provisioned and requests against it
answer with an illegal data address exception.

All flags can also be set in the config file or via KSSMODBUS_*
environment variables, e.g. KSSMODBUS_LISTEN=:1502.`,
	Example: `  # 100 holding registers at 0 and 64 coils at 0
  kssmodbusd serve --listen :1502 --holding-count 100 --coil-count 64

  # Input registers 200..299 with a 1s idle timeout per connection
  kssmodbusd serve --input-start 200 --input-count 100 --indication-timeout 1s`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()

	f.String("listen", ":502", "Listen address")
	f.Int("coil-start", 0, "First coil address")
	f.Int("coil-count", 0, "Number of coils (0 = none)")
	f.Int("discrete-start", 0, "First discrete input address")
	f.Int("discrete-count", 0, "Number of discrete inputs (0 = none)")
	f.Int("input-start", 0, "First input register address")
	f.Int("input-count", 0, "Number of input registers (0 = none)")
	f.Int("holding-start", 0, "First holding register address")
	f.Int("holding-count", 0, "Number of holding registers (0 = none)")
	f.Duration("response-timeout", modbus.DefaultResponseTimeout, "Reply write timeout")
	f.Duration("byte-timeout", modbus.DefaultByteTimeout, "In-frame read timeout")
	f.Duration("indication-timeout", modbus.DefaultIndicationTimeout, "Idle request timeout (0 = unbounded)")
	f.Int("max-connections", 100, "Maximum concurrent connections")
	f.Bool("trace", false, "Trace frames at debug level")
	f.Int("uptime-register", -1, "Input register address to tick with uptime seconds (-1 = off)")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) error {
	desc := modbus.AddressSpaceDescriptor{
		Coils: modbus.AddressRange{
			Start: viper.GetInt("coil-start"),
			Count: viper.GetInt("coil-count"),
		},
		DiscreteInputs: modbus.AddressRange{
			Start: viper.GetInt("discrete-start"),
			Count: viper.GetInt("discrete-count"),
		},
		InputRegisters: modbus.AddressRange{
			Start: viper.GetInt("input-start"),
			Count: viper.GetInt("input-count"),
		},
		HoldingRegisters: modbus.AddressRange{
			Start: viper.GetInt("holding-start"),
			Count: viper.GetInt("holding-count"),
		},
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	server := modbus.NewServer(modbus.StaticHandler(desc),
		modbus.WithServerLogger(logger),
		modbus.WithMaxConnections(viper.GetInt("max-connections")),
		modbus.WithResponseTimeout(viper.GetDuration("response-timeout")),
		modbus.WithByteTimeout(viper.GetDuration("byte-timeout")),
		modbus.WithIndicationTimeout(viper.GetDuration("indication-timeout")),
		modbus.WithTrace(viper.GetBool("trace")),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if addr := viper.GetInt("uptime-register"); addr >= 0 {
		go tickUptime(ctx, server, addr)
	}

	return server.ListenAndServeContext(ctx, viper.GetString("listen"))
}

// tickUptime bumps one input register with the server's uptime in
// seconds, a minimal example of server-side state changes outside of
// request handling.
func tickUptime(ctx context.Context, server *modbus.Server, addr int) {
	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			server.UpdateAddressSpaceAsync(func(space *modbus.AddressSpace) error {
				if space.InputRegisters == nil {
					return nil
				}
				return space.InputRegisters.Set(addr, uint16(time.Since(start).Seconds()))
			})
		}
	}
}
