package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kerbside-data/passage.report/internal/api"
	"github.com/kerbside-data/passage.report/internal/camera"
	"github.com/kerbside-data/passage.report/internal/config"
	"github.com/kerbside-data/passage.report/internal/db"
	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/httputil"
	"github.com/kerbside-data/passage.report/internal/monitoring"
	"github.com/kerbside-data/passage.report/internal/radar"
	"github.com/kerbside-data/passage.report/internal/serialmux"
	"github.com/kerbside-data/passage.report/internal/sink"
	"github.com/kerbside-data/passage.report/internal/units"
	"github.com/kerbside-data/passage.report/internal/version"
	"github.com/kerbside-data/passage.report/internal/weather"
)

var (
	devMode         = flag.Bool("dev", false, "Run in dev mode: replay radar fixtures instead of opening a serial port")
	disableRadar    = flag.Bool("disable-radar", false, "Run without a radar: API and camera/weather feeds stay up, no events trigger")
	fixturesPath    = flag.String("fixtures", "fixtures.txt", "Fixture file replayed in dev mode, one radar line per row")
	fixtureInterval = flag.Duration("fixture-interval", 500*time.Millisecond, "Delay between replayed fixture lines in dev mode")
	listen          = flag.String("listen", ":8080", "HTTP listen address")
	serialPort      = flag.String("serial-port", "/dev/ttySC1", "Serial port for the radar sensor (ignored in dev mode)")
	serialBaud      = flag.Int("serial-baud", 0, "Serial baud rate (0 uses the sensor model's default)")
	sensorModel     = flag.String("sensor-model", "ops243-a", "Radar sensor model")
	cameraAddr      = flag.String("camera-addr", ":5600", "UDP listen address for camera inferences (empty disables the camera feed)")
	cameraRcvBuf    = flag.Int("camera-rcvbuf", 0, "UDP receive buffer size in bytes for the camera listener (0 keeps the system default)")
	stationURL      = flag.String("station-url", "", "Hyperlocal weather station URL (empty disables the feed)")
	regionalURL     = flag.String("regional-url", "", "Regional weather service URL (empty disables the feed)")
	dbFile          = flag.String("db", "passage.db", "Path to the SQLite database file")
	tuningPath      = flag.String("tuning", "", "Tuning config JSON (empty uses built-in defaults)")
	udpSinkAddr     = flag.String("udp-sink", "", "Relay consolidated events as JSON datagrams to this UDP address (empty disables)")
	displayUnits    = flag.String("units", "mph", "Default display units for API speeds")
	timezone        = flag.String("timezone", "UTC", "Default timezone for daily statistics")
)

// splitMigrateArgs separates the -db option from the migrate action words so
// both "passage migrate up -db /data/passage.db" and
// "passage migrate -db /data/passage.db up" work.
func splitMigrateArgs(raw []string) (args []string, dbPath string) {
	dbPath = "passage.db"
	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		switch {
		case arg == "-db" || arg == "--db":
			if i+1 < len(raw) {
				dbPath = raw[i+1]
				i++
			}
		case strings.HasPrefix(arg, "-db="):
			dbPath = strings.TrimPrefix(arg, "-db=")
		case strings.HasPrefix(arg, "--db="):
			dbPath = strings.TrimPrefix(arg, "--db=")
		default:
			args = append(args, arg)
		}
	}
	return args, dbPath
}

// loadFixtureLines reads the dev-mode fixture file, one radar line per row,
// skipping blank rows.
func loadFixtureLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Main
func main() {
	// The migrate subcommand manages schema versions without starting the
	// daemon. It runs before flag.Parse so it keeps its own options.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		args, dbPath := splitMigrateArgs(os.Args[2:])
		db.RunMigrateCommand(args, dbPath)
		return
	}

	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !*devMode && !*disableRadar && *serialPort == "" {
		log.Fatal("Serial port is required outside dev mode")
	}
	if !units.IsValidSpeedUnit(*displayUnits) {
		log.Fatalf("Invalid units %q: must be one of %s", *displayUnits, units.SpeedUnitsString())
	}
	if !units.IsTimezoneValid(*timezone) {
		log.Fatalf("Invalid timezone %q", *timezone)
	}
	if !units.IsCommonTimezone(*timezone) {
		log.Printf("Timezone %q is not in the common zone list; daily boundaries follow the tz database", *timezone)
	}

	db.DevMode = *devMode
	log.Printf("passage %s", version.String())
	log.Printf("Speeds in %s, daily statistics in %s", *displayUnits, units.GetTimezoneLabel(*timezone))

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *tuningPath)
	}

	model, err := radar.LookupSensorModel(*sensorModel)
	if err != nil {
		log.Fatalf("Unknown sensor model: %v", err)
	}

	database, err := db.OpenDBWithMigrationCheck(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	metrics, err := monitoring.NewFusionCollector(nil)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	windows := fusion.NewWindowStore(fusion.WindowConfig{
		MaxEntries: tuning.GetWindowMaxEntries(),
		MaxAge:     tuning.GetWindowMaxAge(),
	}, nil)

	// Event sinks: the database always, the hub for the live stream, and the
	// UDP relay when configured. A relay that cannot be dialed disables the
	// relay rather than the daemon.
	dbSink := db.NewDBSink(database, 0, metrics)
	defer dbSink.Close()
	hub := sink.NewHub(0)
	sinks := sink.Fanout{dbSink, hub}

	var udpSink *sink.UDPSink
	if *udpSinkAddr != "" {
		udpSink, err = sink.NewUDPSink(*udpSinkAddr, 0, metrics)
		if err != nil {
			log.Printf("UDP sink disabled: %v", err)
			udpSink = nil
		} else {
			sinks = append(sinks, udpSink)
			defer udpSink.Close()
		}
	}

	coord := fusion.NewCoordinator(fusion.CoordinatorConfig{
		CameraWait:           tuning.GetCameraWait(),
		WeatherWait:          tuning.GetWeatherWait(),
		OverallDeadline:      tuning.GetOverallDeadline(),
		PollInterval:         tuning.GetPollInterval(),
		CameraTolerance:      tuning.GetCameraTolerance(),
		WeatherTolerance:     tuning.GetWeatherTolerance(),
		WeatherDisagreementC: tuning.GetWeatherDisagreementC(),
	}, windows, sinks, nil, metrics)
	defer coord.Close()

	var m serialmux.SerialMuxInterface
	if *disableRadar {
		m = serialmux.NewDisabledSerialMux()
		log.Printf("Radar disabled: no events will trigger")
	} else if *devMode {
		lines, err := loadFixtureLines(*fixturesPath)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		m = serialmux.NewMockSerialMux(lines, *fixtureInterval)
		log.Printf("Dev mode: replaying %d fixture lines every %v", len(lines), *fixtureInterval)
	} else {
		opts := serialmux.PortOptions{BaudRate: *serialBaud}
		if opts.BaudRate == 0 {
			opts.BaudRate = model.DefaultBaudRate
		}
		m, err = serialmux.NewRealSerialMux(*serialPort, opts)
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
	}
	defer m.Close()

	if !*disableRadar {
		if err := m.Initialize(model.InitCommands...); err != nil {
			log.Fatalf("failed to initialize sensor: %v", err)
		}
		log.Printf("Initialized %s sensor", *sensorModel)
	}

	feed := radar.NewFeed(radar.FeedConfig{
		TriggerMinSpeed: tuning.GetTriggerMinSpeed(),
	}, m, windows, coord, nil)

	var cam *camera.Listener
	if *cameraAddr != "" {
		cam = camera.NewListener(camera.ListenerConfig{
			Addr:   *cameraAddr,
			RcvBuf: *cameraRcvBuf,
		}, windows, nil)
	}

	var poller *weather.Poller
	if *stationURL != "" || *regionalURL != "" {
		client := httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
		poller = weather.NewPoller(tuning.GetWeatherPollInterval(), windows, nil)
		if *stationURL != "" {
			poller.Add(weather.NewStationProvider(*stationURL, client), fusion.SourceWeatherLocal)
		}
		if *regionalURL != "" {
			poller.Add(weather.NewRegionalProvider(*regionalURL, client), fusion.SourceWeatherRegional)
		}
	}

	// Create a wait group for the feed, listener, poller, and HTTP server
	// routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if udpSink != nil {
		udpSink.Start(ctx)
	}

	// serial monitor: reads the port and fans lines out to subscribers
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("serial monitor error: %v", err)
		}
		log.Print("serial monitor routine terminated")
	}()

	// radar feed: serial lines become window appends and triggers
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("radar feed error: %v", err)
		}
		log.Print("radar feed routine terminated")
	}()

	if cam != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cam.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("camera listener error: %v", err)
			}
			log.Print("camera listener routine terminated")
		}()
	}

	if poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := poller.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("weather poller error: %v", err)
			}
			log.Print("weather poller routine terminated")
		}()
	}

	// window depth gauge refresh
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for source, depth := range windows.Depths() {
					metrics.SetWindowDepth(string(source), depth)
				}
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// assemble the API over the wired pipeline
		mux := api.NewServer(api.ServerConfig{
			DB:          database,
			Mux:         m,
			Hub:         hub,
			Coordinator: coord,
			Windows:     windows,
			RadarFeed:   feed,
			Camera:      cam,
			Weather:     poller,
			Metrics:     metrics,
			Tuning:      tuning,
			Units:       *displayUnits,
			Timezone:    *timezone,
		}).ServeMux()

		m.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// ListenAndServe blocks, so it runs in its own goroutine and the
		// outer one waits for cancellation.
		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("HTTP server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("HTTP server shutting down")

		// Give in-flight requests a second to finish, then force.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP close: %v", err)
			}
		}

		log.Print("HTTP server routine terminated")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
