package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/klassen-software-solutions/KSSModbus"
)

var (
	writeAddress uint16
	writeValues  []uint
)

var writeCmd = &cobra.Command{
	Use:     "write {coil|register}",
	Aliases: []string{"w"},
	Short:   "Write values to a Modbus server",
	Long: `Write one or more coils or holding registers. One value writes a
single object (FC05/FC06); several values write a run (FC15/FC16).
Coil values are 0 or 1.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"coil", "register", "c", "r"},
	Example: `  kssmodbusd write register -a 3 -V 42
  kssmodbusd write coil -a 10 -V 1 -V 0 -V 1`,
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().Uint16VarP(&writeAddress, "address", "a", 0, "Starting address")
	writeCmd.Flags().UintSliceVarP(&writeValues, "value", "V", nil, "Value(s) to write")
	writeCmd.MarkFlagRequired("value")
}

func runWrite(cmd *cobra.Command, args []string) error {
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
	case "coil", "c":
		if len(writeValues) == 1 {
			return client.WriteSingleCoil(ctx, writeAddress, writeValues[0] != 0)
		}
		bits := make([]bool, len(writeValues))
		for i, v := range writeValues {
			bits[i] = v != 0
		}
		return client.WriteMultipleCoils(ctx, writeAddress, bits)
	case "register", "r":
		if len(writeValues) == 1 {
			return client.WriteSingleRegister(ctx, writeAddress, uint16(writeValues[0]))
		}
		regs := make([]uint16, len(writeValues))
		for i, v := range writeValues {
			regs[i] = uint16(v)
		}
		return client.WriteMultipleRegisters(ctx, writeAddress, regs)
	default:
		return fmt.Errorf("unknown object kind %q", args[0])
	}
}
