// Command airvane runs the radio control-plane core against a simulated
// firmware: a full bring-up (vdev, scan, association, key install) followed
// by a clean teardown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/chantab"
	"github.com/tmorgen/airvane/internal/config"
	"github.com/tmorgen/airvane/internal/driver"
	"github.com/tmorgen/airvane/internal/metrics"
	"github.com/tmorgen/airvane/internal/store"
	"github.com/tmorgen/airvane/internal/survey"
	"github.com/tmorgen/airvane/internal/version"
	"github.com/tmorgen/airvane/internal/wmi"
	"github.com/tmorgen/airvane/pkg/wlan"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("airvane starting", zap.String("version", version.Short()))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	channels := chantab.Default()
	if path := cfg.GetString("channels.path"); path != "" {
		channels, err = chantab.Load(path)
		if err != nil {
			logger.Fatal("failed to load channel table", zap.Error(err))
		}
	}

	var surveyStore *survey.Store
	if dbPath := cfg.GetString("survey.db_path"); dbPath != "" {
		db, err := store.New(dbPath)
		if err != nil {
			logger.Fatal("failed to open survey database", zap.Error(err))
		}
		defer db.Close()
		surveyStore, err = survey.New(context.Background(), db)
		if err != nil {
			logger.Fatal("failed to initialize survey store", zap.Error(err))
		}
	}

	lab := simBSS{
		BSSID:   mustMAC("02:1a:2b:3c:4d:5e"),
		SSID:    "airvane-lab",
		FreqMHz: 5180,
		RSSI:    -52,
	}
	firmware := newSimFirmware(wmi.Variant10_2, []simBSS{lab}, logger)
	defer firmware.Stop()

	services := wmi.ServiceMap{}.
		With(wmi.ServiceScanOffload).
		With(wmi.ServiceRadarDetect).
		With(wmi.ServiceStaPSWorkaround)

	dev, err := driver.New(driver.Options{
		Variant:   wmi.Variant10_2,
		Services:  services,
		Transport: firmware,
		Channels:  channels,
		Timeouts:  cfg.Timeouts(),
		Limits:    cfg.Limits(),
		Survey:    surveyStore,
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to build device", zap.Error(err))
	}
	firmware.Attach(dev.DeliverEvent)

	if err := runBringup(dev, firmware, lab, logger); err != nil {
		logger.Fatal("bring-up failed", zap.Error(err))
	}

	logger.Info("airvane ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	dev.Close()
	logger.Info("airvane stopped")
}

// runBringup drives one full client session against the simulated firmware.
func runBringup(dev *driver.Device, firmware *simFirmware, bss simBSS, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vdevID, err := dev.CreateVdev(wlan.RoleClient, mustMAC("02:00:00:00:00:01"))
	if err != nil {
		return err
	}
	if err := dev.StartVdev(ctx, vdevID, 36, wlan.CBW20); err != nil {
		return err
	}

	surveyID, err := dev.StartScan(ctx, vdevID, bss.SSID)
	if err != nil {
		return err
	}
	if surveyID != "" {
		logger.Info("scan recorded", zap.String("survey_id", surveyID))
	}

	done, err := dev.BeginAssociation(vdevID, bss.BSSID, bss.SSID)
	if err != nil {
		return err
	}
	firmware.AnnounceAssoc(uint32(vdevID), bss, 1)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	psk, err := wlan.PSK(bss.SSID, "correct horse battery staple")
	if err != nil {
		return err
	}
	return dev.InstallKey(ctx, vdevID, bss.BSSID, wlan.Key{
		Cipher:   wlan.CipherCCMP,
		Index:    0,
		Flags:    wlan.KeyFlagPairwise | wlan.KeyFlagTxUsage,
		Material: psk,
	})
}

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}
