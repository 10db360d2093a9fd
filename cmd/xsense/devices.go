package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benmeehan/xsense-agent/internal/constants"
	"github.com/benmeehan/xsense-agent/internal/models"
	"github.com/benmeehan/xsense-agent/pkg/xsense"
)

var (
	sensorsOnly bool
	capability  string
	outputPath  string
)

// deviceView is one record of the devices output. Stations carry no capabilities.
type deviceView struct {
	models.DeviceRecord
	Capabilities []constants.Capability `json:"capabilities,omitempty"`
}

// describeDevices applies the output filters and annotates sensors with what they sense.
func describeDevices(devices []models.DeviceRecord, sensorsOnly bool, capability constants.Capability) ([]deviceView, error) {
	switch capability {
	case "", constants.CapabilitySmoke, constants.CapabilityCarbonMonoxide:
	default:
		return nil, fmt.Errorf("unknown capability %q, want %q or %q", capability,
			constants.CapabilitySmoke, constants.CapabilityCarbonMonoxide)
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		if d.IsStation() {
			if sensorsOnly || capability != "" {
				continue
			}
			views = append(views, deviceView{DeviceRecord: d})
			continue
		}
		if capability != "" && !d.HasCapability(capability) {
			continue
		}
		views = append(views, deviceView{DeviceRecord: d, Capabilities: d.Capabilities()})
	}
	return views, nil
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Log in and print the flattened device list as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, fileClient, logger, err := setup()
		if err != nil {
			return err
		}

		client, err := xsense.New(config, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), config.Polling.Timeout)
		defer cancel()

		if err := client.Login(ctx); err != nil {
			return err
		}
		devices, err := client.GetDeviceList(ctx)
		if err != nil {
			return err
		}
		views, err := describeDevices(devices, sensorsOnly, constants.Capability(capability))
		if err != nil {
			return err
		}

		if outputPath != "" {
			if err := fileClient.WriteJsonFile(outputPath, views); err != nil {
				return err
			}
			logger.Info().Str("file", outputPath).Int("devices", len(views)).Msg("Device list written")
			return nil
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(views)
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&sensorsOnly, "sensors-only", false, "omit base station records")
	devicesCmd.Flags().StringVar(&capability, "capability", "", "only list sensors with this capability (smoke or co)")
	devicesCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the list to this file instead of stdout")
}
