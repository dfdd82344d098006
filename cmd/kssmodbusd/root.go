package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// Global flags
	host    string
	port    int
	unitID  uint8
	timeout time.Duration
	verbose bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kssmodbusd",
	Short: "A Modbus TCP server daemon and poke client",
	Long: `kssmodbusd serves a configurable Modbus TCP address space and
includes small read/write client commands for poking at a server.

Examples:
  # Serve 100 holding registers and 64 coils on port 1502
  kssmodbusd serve --listen :1502 --holding-count 100 --coil-count 64

  # Read 10 holding registers from address 0
  kssmodbusd read hr -a 0 -c 10 -H 192.168.1.100

  # Write value 42 to holding register 3
  kssmodbusd write register -a 3 -V 42 -H 192.168.1.100`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.kssmodbusd.yaml)")

	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "localhost", "Modbus server host (client commands)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 502, "Modbus server port (client commands)")
	rootCmd.PersistentFlags().Uint8VarP(&unitID, "unit", "u", 1, "Modbus unit ID (1-247)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Operation timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("unit", rootCmd.PersistentFlags().Lookup("unit"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".kssmodbusd")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("KSSMODBUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func getAddress() string {
	return fmt.Sprintf("%s:%d", viper.GetString("host"), viper.GetInt("port"))
}
