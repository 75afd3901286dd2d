// Command mlatd runs the multilateration engine: it ingests receiver
// arrivals over UDP, synchronizes receiver clocks, correlates and solves
// DF17 sightings into positions, and serves a status dashboard.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/takama/daemon"
	"gopkg.in/yaml.v3"

	"github.com/openmlat/mlat-core/common"
	"github.com/openmlat/mlat-core/internal/adsb"
	"github.com/openmlat/mlat-core/internal/config"
	"github.com/openmlat/mlat-core/internal/engine"
	"github.com/openmlat/mlat-core/internal/geo"
	"github.com/openmlat/mlat-core/internal/ingest"
	"github.com/openmlat/mlat-core/internal/logging"
	"github.com/openmlat/mlat-core/internal/metrics"
	"github.com/openmlat/mlat-core/internal/output"
	"github.com/openmlat/mlat-core/internal/receiver"
	"github.com/openmlat/mlat-core/internal/refdb"
	"github.com/openmlat/mlat-core/internal/snapshot"
	"github.com/openmlat/mlat-core/internal/status"
)

const (
	serviceName        = "mlatd"
	serviceDescription = "passive Mode S multilateration engine"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: serviceDescription,
	Run: func(cmd *cobra.Command, args []string) {
		srv, err := daemon.New(serviceName, serviceDescription, daemon.SystemDaemon)
		if err != nil {
			log.Fatalf("daemon setup: %v", err)
		}
		service := &Service{srv}
		status, err := service.Manage()
		if err != nil {
			log.Fatalf("%s: %v", status, err)
		}
		fmt.Println(status)
	},
}

// Service embeds daemon.Daemon so install/remove/start/stop/status are
// available as subcommands for OS service management.
type Service struct {
	daemon.Daemon
}

func (s *Service) Manage() (string, error) {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "install", "remove", "start", "stop":
			if !common.IsRunningAsRoot() {
				return "permission denied", fmt.Errorf("%s requires root", os.Args[1])
			}
			switch os.Args[1] {
			case "install":
				return s.Install()
			case "remove":
				return s.Remove()
			case "start":
				return s.Start()
			case "stop":
				return s.Stop()
			}
		case "status":
			return s.Status()
		}
	}

	return run()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "print a default mlatd.yaml template to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(config.DefaultConfig())
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./mlatd.yaml", "config file")
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mlatd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "using config file: %s\n", viper.ConfigFileUsed())
	}
}

func run() (string, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return "config error", err
	}

	if err := logging.Init(cfg.Logging.Dir); err != nil {
		return "logging init failed", err
	}

	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	var db *refdb.DB
	if cfg.Output.RefDBPath != "" {
		var err error
		db, err = refdb.Open(cfg.Output.RefDBPath)
		if err != nil {
			return "refdb open failed", err
		}
		defer db.Close()
	}

	decoder := adsb.NewReferenceDecoder()
	sink := &logSink{}

	eng := engine.New(decoder, sink)
	statusServer := status.NewServer(eng.Graph())
	if db != nil {
		statusServer.SetRefDB(db)
	}
	if cfg.Snapshot.Enabled {
		eng.SetSnapshotStore(snapshot.New(cfg.Snapshot.Servers...))
	}

	listeners := make([]*ingest.UDPListener, 0, len(cfg.Receivers))
	for _, rc := range cfg.Receivers {
		pos := geo.LLHToECEF(geo.LLH{Lat: rc.Latitude, Lon: rc.Longitude, Alt: rc.Altitude})
		freq := rc.Frequency
		if freq == 0 {
			freq = 12e6
		}

		r := eng.Receivers.Connect(func(id int) *receiver.Receiver {
			return receiver.New(id, pos, freq, rc.WrapBits, eng.OnArrival)
		})
		log.Printf("receiver %d (%s) connected at %.5f,%.5f", r.ID, rc.Name, rc.Latitude, rc.Longitude)

		l, err := ingest.ListenUDP(rc.UDPPort)
		if err != nil {
			log.Printf("receiver %d: udp listen failed: %v", r.ID, err)
			continue
		}
		listeners = append(listeners, l)
		go pumpReceiver(r, l, decoder)
	}

	if cfg.Output.StatusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", statusServer.Handler())
		if cfg.Metrics.Enabled {
			mux.Handle("/metrics", metrics.Handler())
		}
		go http.ListenAndServe(cfg.Output.StatusAddr, mux)
	}

	maintenance := time.NewTicker(time.Second)
	defer maintenance.Stop()
	for range maintenance.C {
		now := time.Now()
		eng.Tick(now)
		statusServer.Update(status.BuildSyncSnapshot(eng.Pairs()), status.CoverageSnapshot{})
	}

	return "mlatd exited", nil
}

func pumpReceiver(r *receiver.Receiver, l *ingest.UDPListener, decoder adsb.Decoder) {
	for {
		frame, err := l.ReadFrame()
		if err != nil {
			log.Printf("receiver %d: read error: %v", r.ID, err)
			return
		}
		info, derr := decoder.DecodeModes(frame.Payload)
		r.OnMessage(frame.Tick, frame.Payload, info.ICAO24, derr == nil, 0, frame.At)
	}
}

// logSink is the fallback output.Sink used until a production wire-format
// sink is configured; it just logs accepted fixes.
type logSink struct{}

func (logSink) Publish(rec output.Record) {
	log.Printf("fix icao24=%06x lat=%.5f lon=%.5f alt=%.0fm receivers=%d chi2/dof=%.1f",
		rec.ICAO24, rec.Position.Lat, rec.Position.Lon, rec.Position.Alt, len(rec.Receivers), rec.ChiSquare/float64(rec.DOF))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
