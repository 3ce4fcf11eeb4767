package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	resolve "github.com/dnscore/orchestrator"
)

// resolveq is a one-shot lookup demo exercising the Resolver end to
// end, grounded on teacher's cmd/routedns/main.go: a single cobra
// command loading a TOML config and wiring its resolvers, trimmed from
// routedns's listener/router/group assembly down to "build the
// transports this config names, then issue one query."
func main() {
	var (
		qtype  string
		dnssec bool
		tcp    bool
	)

	cmd := &cobra.Command{
		Use:   "resolveq <config.toml> <name>",
		Short: "Issue a single DNS query through the stub resolver orchestrator",
		Example: `  resolveq config.toml example.com
  resolveq --type AAAA --dnssec config.toml example.com`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], qtype, dnssec, tcp)
		},
	}
	cmd.Flags().StringVar(&qtype, "type", "A", "query type (A, AAAA, MX, ...)")
	cmd.Flags().BoolVar(&dnssec, "dnssec", false, "enable DNSSEC validation")
	cmd.Flags().BoolVar(&tcp, "tcp", false, "force TCP")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configFile, name, qtypeName string, dnssec, tcp bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", configFile, err)
	}
	if len(cfg.Nameserver) == 0 {
		return fmt.Errorf("%s defines no nameservers", configFile)
	}

	qtype, ok := dnsTypeByName(qtypeName)
	if !ok {
		return fmt.Errorf("unknown query type %q", qtypeName)
	}

	transports, err := buildTransports(cfg)
	if err != nil {
		return err
	}

	opts := resolve.ResolverOptions{
		UDPSize:    cfg.UDPSize,
		DNSSEC:     dnssec || cfg.DNSSEC,
		Recurse:    true,
		RetryTimes: cfg.RetryTimes,
		ConfigInfo: cfg,
	}
	if cfg.RetryDelaySec > 0 {
		opts.RetryDelay = time.Duration(cfg.RetryDelaySec) * time.Second
	}
	if cfg.QueryTimeoutS > 0 {
		opts.QueryTimeout = time.Duration(cfg.QueryTimeoutS) * time.Second
	}
	if opts.DNSSEC {
		validator := newRootValidator()
		opts.Validator = validator
	}

	resolver, err := resolve.NewResolver(transports, opts)
	if err != nil {
		return err
	}
	defer resolver.Close()

	sink := resolve.NewResultChan()
	var clientID resolve.ClientID
	if tcp {
		clientID = resolver.SendAsyncTCP(queryMessage(name, qtype, opts), sink)
	} else {
		clientID = resolver.SendAsync(queryMessage(name, qtype, opts), sink)
	}

	result := <-sink
	if result.Err != nil {
		return fmt.Errorf("query %s failed: %w", clientID, result.Err)
	}
	fmt.Println(result.Msg.String())
	fmt.Fprintf(os.Stderr, "; security_level=%s\n", result.SecurityLevel)
	return nil
}
