package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/amirimatin/atomix-partition-group/pkg/bootstrap"
	"github.com/amirimatin/atomix-partition-group/pkg/groupconfig"
	"github.com/amirimatin/atomix-partition-group/pkg/observability/metrics"
	"github.com/amirimatin/atomix-partition-group/pkg/observability/tracing"
	"github.com/amirimatin/atomix-partition-group/pkg/partitiongroup"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "pgctl",
		Short:         "partition-group membership node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		id, memBind, memAdv, msgBind, joinCSV, discoveryKind string
		dnsNames, filePath, fileEnv                          string
		systemGroupName, systemGroupType                     string
		dataGroupsCSV                                        string
		dnsPort                                              int
		discRefresh                                          time.Duration
		traceEnable                                          bool
		metricsAddr                                          string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a partition-group membership node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("missing --id")
			}
			ctx, cancel := signalContext()
			defer cancel()

			if traceEnable {
				shutdown, err := tracing.Setup(true)
				if err != nil {
					log.Printf("tracing setup error: %v", err)
				} else {
					defer func() { _ = shutdown(context.Background()) }()
				}
			}
			metrics.Register()
			if metricsAddr != "" {
				go serveMetrics(metricsAddr)
			}

			groups, err := parseGroups(systemGroupName, systemGroupType, dataGroupsCSV)
			if err != nil {
				return err
			}

			cfg := bootstrap.Config{
				NodeID:        id,
				MemBind:       memBind,
				MemAdv:        memAdv,
				MsgBind:       msgBind,
				DiscoveryKind: discoveryKind,
				SeedsCSV:      joinCSV,
				DNSNamesCSV:   dnsNames,
				DNSPort:       dnsPort,
				DiscRefresh:   discRefresh,
				FilePath:      filePath,
				FileEnv:       fileEnv,
				Groups:        groups,
				Logger:        log.Default(),
			}
			node, err := bootstrap.Run(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = node.Stop(context.Background()) }()

			node.Manager.AddListener(func(ev partitiongroup.Event) {
				log.Printf("membership changed: group=%s members=%v", ev.Membership.Name, ev.Membership.Members)
			})

			fmt.Println("partition-group node running. Press Ctrl+C to exit.")
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "node id (required)")
	cmd.Flags().StringVar(&memBind, "mem-bind", ":7946", "gossip membership bind addr (host:port)")
	cmd.Flags().StringVar(&memAdv, "mem-adv", "", "gossip membership advertise addr (host:port, optional)")
	cmd.Flags().StringVar(&msgBind, "msg-bind", ":7947", "messaging transport bind addr (host:port)")
	cmd.Flags().StringVar(&joinCSV, "join", "", "comma-separated seed nodes (host:port) — used by discovery=static")
	cmd.Flags().StringVar(&discoveryKind, "discovery", "static", "discovery backend: static|dns|file")
	cmd.Flags().StringVar(&dnsNames, "dns-names", "", "comma-separated DNS names or SRV records")
	cmd.Flags().IntVar(&dnsPort, "dns-port", 7946, "port used for A/AAAA lookups")
	cmd.Flags().DurationVar(&discRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
	cmd.Flags().StringVar(&filePath, "file-path", "", "path or glob to a file with seeds")
	cmd.Flags().StringVar(&fileEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
	cmd.Flags().StringVar(&systemGroupName, "system-group", "system", "system group name")
	cmd.Flags().StringVar(&systemGroupType, "system-group-type", "raft", "system group type name")
	cmd.Flags().StringVar(&dataGroupsCSV, "data-groups", "", "comma-separated name:type pairs, e.g. data:raft,cache:primary-backup")
	cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (host:port), empty to disable")
	return cmd
}

func parseGroups(systemName, systemType, dataCSV string) (groupconfig.PartitionGroupsConfig, error) {
	cfg := groupconfig.PartitionGroupsConfig{PartitionGroups: map[string]groupconfig.GroupConfig{}}
	if systemName != "" {
		sg := groupconfig.GroupConfig{Name: systemName, Type: systemType}
		if err := sg.Validate(); err != nil {
			return cfg, fmt.Errorf("system group: %w", err)
		}
		cfg.SystemGroup = &sg
	}
	if dataCSV != "" {
		for _, pair := range strings.Split(dataCSV, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, typ, ok := strings.Cut(pair, ":")
			if !ok {
				return cfg, fmt.Errorf("invalid data group %q, expected name:type", pair)
			}
			g := groupconfig.GroupConfig{Name: name, Type: typ}
			if err := g.Validate(); err != nil {
				return cfg, fmt.Errorf("data group %q: %w", pair, err)
			}
			cfg.PartitionGroups[name] = g
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server error: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx, cancel
}
