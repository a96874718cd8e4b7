package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"heatsim/calculator"
	"heatsim/config"
	"heatsim/job"
	"heatsim/model"
	"heatsim/server"
	"heatsim/storage"
)

var (
	configPath  string
	requestFile string
	presetName  string
	tEnd        float64
	saveRun     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "heatsim",
		Short:         "transient heat conduction in thin-layer device stacks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "config file (ini)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the simulation service",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run one simulation in the foreground",
		Args:  cobra.NoArgs,
		RunE:  runOnce,
	}
	runCmd.Flags().StringVar(&requestFile, "request", "", "request file (yaml or json)")
	runCmd.Flags().StringVar(&presetName, "preset", "oled-default", "built-in preset used when --request is empty")
	runCmd.Flags().Float64Var(&tEnd, "t-end", 0, "override the end time in seconds")
	runCmd.Flags().BoolVar(&saveRun, "save", false, "write the archive to the storage dir")

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list presets or print one as yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showPresets,
	}

	rootCmd.AddCommand(serveCmd, runCmd, presetsCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.SetupLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := storage.New(cfg.StorageDir)
	if err := store.Init(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	hub := server.NewHub()
	go hub.Run()
	defer hub.Stop()

	jobs := job.NewManager(cfg.Jobs, store,
		job.WithNotifier(hub),
		job.WithMetrics(job.NewMetrics(prometheus.DefaultRegisterer)),
	)
	if err := jobs.Start(); err != nil {
		return err
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	srv := server.NewServer(cfg.Addr, upgrader, jobs, store, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()

	select {
	case err = <-errc:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Jobs.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("http shutdown")
	}
	if jerr := jobs.Shutdown(shutdownCtx); jerr != nil {
		log.WithError(jerr).Warn("job shutdown")
	}
	return err
}

func loadRequest() (*model.SimulationRequest, error) {
	if requestFile == "" {
		return model.Preset(presetName)
	}
	data, err := os.ReadFile(requestFile)
	if err != nil {
		return nil, err
	}
	return model.LoadRequest(data)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := loadRequest()
	if err != nil {
		return err
	}
	if tEnd > 0 {
		req.TEnd = tEnd
	}

	last := -1.0
	rep := calculator.ReporterFunc(func(percent float64, message string) {
		if percent-last >= 10 || percent >= 100 {
			last = percent
			log.WithField("progress", fmt.Sprintf("%.0f%%", percent)).Info(message)
		}
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := calculator.Simulate(ctx, req, cfg.Jobs.Calculator, rep)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "active layer\t%s\n", res.ActiveLayer)
	fmt.Fprintf(w, "grid\t%d x %d nodes\n", res.Nr, res.Nz)
	fmt.Fprintf(w, "device radius\t%.4g m\n", res.DeviceRadius)
	fmt.Fprintf(w, "source power\t%.4g W\n", res.SourcePower)
	fmt.Fprintf(w, "simulated time\t%.4g s\n", res.TotalTime)
	fmt.Fprintf(w, "source peak\t%.3f K (%.2f C)\n", res.SourcePeakTemperature, res.SourcePeakTemperature-273.15)
	fmt.Fprintf(w, "field peak\t%.3f K\n", res.PeakTemperature)
	fmt.Fprintf(w, "solver\t%d steps, %d rhs, %d lu\n", res.Stats.Steps, res.Stats.RHSEvals, res.Stats.LUDecomps)
	w.Flush()

	celsius := make([]float64, len(res.SourceTemperature))
	for i, v := range res.SourceTemperature {
		celsius[i] = v - 273.15
	}
	if len(celsius) > 1 {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), asciigraph.Plot(celsius,
			asciigraph.Height(12),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("source temperature (C), log time %.3g..%.3g s", res.Times[0], res.Times[len(res.Times)-1])),
		))
	}

	if saveRun {
		store := storage.New(cfg.StorageDir)
		if err := store.Init(); err != nil {
			return err
		}
		dir, err := store.Save(uuid.NewString(), res)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\narchive: %s\n", dir)
	}
	return nil
}

func showPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		for _, name := range model.PresetNames() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}
	p, err := model.Preset(args[0])
	if err != nil {
		return err
	}
	return yaml.NewEncoder(cmd.OutOrStdout()).Encode(p)
}
