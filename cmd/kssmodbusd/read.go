package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/klassen-software-solutions/KSSModbus"
)

var (
	readAddress  uint16
	readQuantity uint16
)

var readCmd = &cobra.Command{
	Use:       "read {coils|discrete|holding|input}",
	Aliases:   []string{"r"},
	Short:     "Read values from a Modbus server",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"coils", "discrete", "holding", "input", "c", "di", "hr", "ir"},
	Example: `  kssmodbusd read holding -a 0 -c 10 -H 192.168.1.100
  kssmodbusd read coils -a 100 -c 8`,
	RunE: runRead,
}

func init() {
	readCmd.Flags().Uint16VarP(&readAddress, "address", "a", 0, "Starting address")
	readCmd.Flags().Uint16VarP(&readQuantity, "count", "c", 1, "Number of values to read")
}

func runRead(cmd *cobra.Command, args []string) error {
	client, err := modbus.NewClient(getAddress(),
		modbus.WithUnitID(modbus.UnitID(viper.GetUint("unit"))),
		modbus.WithTimeout(viper.GetDuration("timeout")),
		modbus.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		return err
	}

	switch args[0] {
	case "coils", "c":
		values, err := client.ReadCoils(ctx, readAddress, readQuantity)
		if err != nil {
			return err
		}
		printBits(values)
	case "discrete", "di":
		values, err := client.ReadDiscreteInputs(ctx, readAddress, readQuantity)
		if err != nil {
			return err
		}
		printBits(values)
	case "holding", "hr":
		values, err := client.ReadHoldingRegisters(ctx, readAddress, readQuantity)
		if err != nil {
			return err
		}
		printRegisters(values)
	case "input", "ir":
		values, err := client.ReadInputRegisters(ctx, readAddress, readQuantity)
		if err != nil {
			return err
		}
		printRegisters(values)
	default:
		return fmt.Errorf("unknown object kind %q", args[0])
	}
	return nil
}

func printBits(values []bool) {
	for i, v := range values {
		fmt.Printf("%5d: %v\n", int(readAddress)+i, v)
	}
}

func printRegisters(values []uint16) {
	for i, v := range values {
		fmt.Printf("%5d: %6d (0x%04X)\n", int(readAddress)+i, v, v)
	}
}
