package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benmeehan/xsense-agent/internal/services"
	"github.com/benmeehan/xsense-agent/pkg/xsense"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream realtime sensor events as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, _, logger, err := setup()
		if err != nil {
			return err
		}

		client, err := xsense.New(config, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*config.XSense.RequestTimeout)
		defer cancel()
		if err := client.Login(ctx); err != nil {
			return err
		}
		devices, err := client.GetDeviceList(ctx)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		unsubscribe := client.OnMessage(func(msg xsense.Message) {
			_ = encoder.Encode(map[string]any{
				"topic":       msg.Topic,
				"kind":        msg.Kind(),
				"received_at": msg.ReceivedAt,
				"payload":     msg.Payload,
			})
		})
		defer unsubscribe()

		listener := services.NewMqttListenerService(client, config.MQTT.ConnectTimeout+config.XSense.RequestTimeout,
			logger.With().Str("service", "mqtt").Logger())
		poller := services.NewPollingService(config.Polling.Interval, config.Polling.Timeout, client, devices,
			listener.StationsChanged, logger.With().Str("service", "polling").Logger())

		registry := services.NewServiceRegistry(logger)
		registry.RegisterService("mqtt", listener)
		registry.RegisterService("polling", poller)
		if err := registry.StartServices(); err != nil {
			return err
		}
		logger.Info().Int("devices", len(devices)).Msg("Listening for sensor events")

		stopCh := make(chan os.Signal, 1)
		signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
		<-stopCh

		logger.Info().Msg("Shutting down gracefully...")
		registry.StopServices()
		return nil
	},
}
