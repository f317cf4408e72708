// Package cmd implements the kubetransport CLI: flag/config binding,
// logging bootstrap, and wiring together the hosts file, reconciler, and
// cluster watches for the life of the process.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/tools/cache"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"

	"github.com/lanvstn/kubetransport/pkg/health"
	"github.com/lanvstn/kubetransport/pkg/hostsfile"
	"github.com/lanvstn/kubetransport/pkg/k8sclient"
	"github.com/lanvstn/kubetransport/pkg/reconcile"
	"github.com/lanvstn/kubetransport/pkg/version"
	"github.com/lanvstn/kubetransport/pkg/watch"
)

// healthPort is the port health endpoints are served on, matching the
// fixed port the original tool's health server used.
const healthPort = 8082

var rootCmd = &cobra.Command{
	Use:   "kubetransport [options]",
	Short: "Maps Kubernetes services onto stable loopback addresses and forwards traffic to them",
	Long: `
kubetransport watches Services and Pods in a cluster, assigns each
matched service a stable loopback address recorded in the local hosts
file, and forwards traffic sent to that address into the currently
selected pod.

  # show this help
  kubetransport -h

  # shows version information
  kubetransport --version

  # watch every namespace and edit the default hosts file
  kubetransport

  # scope to one namespace, using an explicit kubeconfig
  kubetransport --namespace my-app --kubeconfig ~/.kube/my-cluster.yaml

Health checks are served on port 8082 while the process runs.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if viper.GetBool("version") {
			fmt.Println(version.String())
			return nil
		}

		log := initLogging()
		return run(cmd.Context(), log)
	},
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and quit")
	rootCmd.Flags().IntP("log-level", "", 0, "Set the klog verbosity level (0 to 9)")
	rootCmd.Flags().StringP("kubeconfig", "", "", "Path to a kubeconfig file; defaults to in-cluster config, then the usual kubeconfig loading rules")
	rootCmd.Flags().StringP("namespace", "n", "", "Namespace to watch; empty watches every namespace")
	rootCmd.Flags().StringP("hosts-path", "", "", "Path to the hosts file to manage; defaults to the platform path")
	rootCmd.Flags().BoolP("dry-run", "", false, "Resolve services and pods and log decisions, but never write the hosts file")
	_ = viper.BindPFlags(rootCmd.Flags())

	viper.SetEnvPrefix("kubetransport")
	viper.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".kubetransport")
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err == nil {
			viper.WatchConfig()
			viper.OnConfigChange(func(e fsnotify.Event) {
				klog.V(0).Infof("config file changed: %s", e.Name)
			})
		}
	}
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		klog.Errorf("kubetransport exited with error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	checker := health.NewHealthChecker()
	mux := http.NewServeMux()
	health.AttachHealthEndpoints(mux, checker)
	healthSrv := &http.Server{Addr: fmt.Sprintf(":%d", healthPort), Handler: mux}
	defer healthSrv.Close()

	hostsPath := viper.GetString("hosts-path")
	if hostsPath == "" {
		hostsPath = hostsfile.PathForPlatform()
	}

	fs, err := hostsFs(hostsPath, viper.GetBool("dry-run"))
	if err != nil {
		return fmt.Errorf("prepare hosts file backend for %s: %w", hostsPath, err)
	}

	hosts, err := hostsfile.Load(fs, hostsPath, log.With("component", "hostsfile"))
	if err != nil {
		return fmt.Errorf("load hosts file %s: %w", hostsPath, err)
	}

	client, err := k8sclient.New(viper.GetString("kubeconfig"))
	if err != nil {
		return fmt.Errorf("build kubernetes client: %w", err)
	}

	namespace := viper.GetString("namespace")
	serviceEvents, servicesSynced := client.WatchServices(ctx, namespace)
	podEvents, podsSynced := client.WatchPods(ctx, namespace)
	merged := watch.Merge(ctx, serviceEvents, podEvents)

	go func() {
		synced := cache.WaitForCacheSync(ctx.Done(), servicesSynced, podsSynced)
		checker.SetReady(synced)
		klog.V(0).Infof("initial cluster sync complete: %v", synced)
	}()

	reconciler := reconcile.New(hosts, client, log.With("component", "reconcile"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		klog.V(0).Infof("health endpoints listening on :%d", healthPort)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return healthSrv.Close()
	})
	g.Go(func() error {
		return reconciler.Run(gctx, merged)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// hostsFs returns the filesystem the hosts file is loaded from and saved
// to. In dry-run mode, the real file is read once into an in-memory
// filesystem seeded with its current contents, so every subsequent Save
// lands in memory and the host's real hosts file is never touched.
func hostsFs(path string, dryRun bool) (afero.Fs, error) {
	osFs := afero.NewOsFs()
	if !dryRun {
		return osFs, nil
	}

	contents, err := afero.ReadFile(osFs, path)
	if err != nil {
		return nil, err
	}

	memFs := afero.NewMemMapFs()
	if err := afero.WriteFile(memFs, path, contents, 0o644); err != nil {
		return nil, err
	}
	return memFs, nil
}

// initLogging configures klog for the bootstrap/cluster-watch boundary
// and returns an slog.Logger for library-internal structured logging,
// mirroring how the teacher splits CLI-facing klog output from
// constructor-injected slog loggers inside its own packages.
func initLogging() *slog.Logger {
	logLevel := viper.GetInt("log-level")
	if logLevel < 0 {
		logLevel = 0
	}

	config := textlogger.NewConfig(
		textlogger.Output(os.Stderr),
		textlogger.Verbosity(logLevel),
	)
	logger := textlogger.NewLogger(config)
	klog.SetLoggerWithOptions(logger)

	flagSet := flag.NewFlagSet("kubetransport", flag.ContinueOnError)
	klog.InitFlags(flagSet)
	if err := flagSet.Parse([]string{"--v", strconv.Itoa(logLevel)}); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing log level: %v\n", err)
	}

	klog.V(0).Infof("logging initialized with level %d", logLevel)

	slogLevel := slog.LevelInfo
	if logLevel >= 4 {
		slogLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}
