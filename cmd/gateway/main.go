// Command gateway runs the deterministic testnet gateway: portal
// identity, wallet ledger, exchange, marketplace, chat, web2 guard and
// the evidence surface, all over one sqlite file.
package main

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/nyxlabs/testnet-gateway/internal/api"
	"github.com/nyxlabs/testnet-gateway/internal/compliance"
	"github.com/nyxlabs/testnet-gateway/internal/config"
	"github.com/nyxlabs/testnet-gateway/internal/evidence"
	"github.com/nyxlabs/testnet-gateway/internal/fees"
	"github.com/nyxlabs/testnet-gateway/internal/gateway"
	"github.com/nyxlabs/testnet-gateway/internal/integrations"
	"github.com/nyxlabs/testnet-gateway/internal/metrics"
	"github.com/nyxlabs/testnet-gateway/internal/portal"
	"github.com/nyxlabs/testnet-gateway/internal/risk"
	"github.com/nyxlabs/testnet-gateway/internal/store"
	"github.com/nyxlabs/testnet-gateway/internal/web2"
)

func buildVersion() (commit, describe string) {
	commit, describe = "unknown", "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			commit = setting.Value
			if len(commit) > 12 {
				describe = commit[:12]
			} else {
				describe = commit
			}
		}
	}
	return
}

func run(host string, port int, envFile string) error {
	settings, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if host == "" {
		host = settings.Host
	}
	if port == 0 {
		port = settings.Port
	}

	m := metrics.New()
	st, err := store.Open(settings.DBPath, m)
	if err != nil {
		return err
	}
	defer st.Close()
	eng, err := evidence.NewLocalEngine(settings.RunRoot)
	if err != nil {
		return err
	}

	pricer := fees.Pricer{
		PlatformFeeBPS:  int64(settings.PlatformFeeBPS),
		ProtocolFeeMin:  settings.ProtocolFeeMin,
		TreasuryAddress: settings.TreasuryAddress,
	}

	var comp *compliance.Client
	if settings.ComplianceURL != "" {
		comp = &compliance.Client{
			URL:        settings.ComplianceURL,
			FailClosed: settings.ComplianceFailClosed,
			Timeout:    5 * time.Second,
		}
		log.Printf("compliance hook enabled: %s (fail_closed=%v)",
			settings.ComplianceURL, settings.ComplianceFailClosed)
	}

	riskEngine := risk.New(risk.Config{
		Mode:         settings.RiskMode,
		GlobalPaused: settings.GlobalMutationsPause,
		Global:       risk.Limit{MaxCount: 1200, Window: time.Minute},
		Account:      risk.Limit{MaxCount: 300, Window: time.Minute},
		IP:           risk.Limit{MaxCount: 600, Window: time.Minute},
		ActionLimits: map[string]risk.Limit{
			"wallet.faucet":   {MaxCount: 30, Window: time.Minute},
			"wallet.transfer": {MaxCount: 120, MaxAmount: 5_000_000, Window: time.Minute},
		},
		BreakerErrorsPerMin: int64(settings.RiskErrorsPerMinOpen),
	}, m)

	exec := &gateway.Executor{
		Store:      st,
		Engine:     eng,
		Pricer:     pricer,
		Risk:       riskEngine,
		Compliance: comp,
		Metrics:    m,
		Faucet: gateway.FaucetPolicy{
			Cooldown:          settings.FaucetCooldown,
			MaxAmountPer24h:   settings.FaucetMaxAmountPer24h,
			MaxClaimsPer24h:   settings.FaucetMaxClaimsPer24h,
			IPMaxClaimsPer24h: settings.FaucetIPMaxClaimsPer24h,
		},
	}

	hub := api.NewHub()
	go hub.Run()

	commit, describe := buildVersion()
	srv := &api.Server{
		Store:  st,
		Engine: eng,
		Portal: &portal.Service{
			Secret:       settings.PortalSessionSecret,
			ChallengeTTL: int64(settings.PortalChallengeTTL.Seconds()),
			SessionTTL:   int64(settings.PortalSessionTTL.Seconds()),
		},
		Exec: exec,
		Guard: &web2.Guard{
			Allowlist: web2.DefaultAllowlist,
			Pricer:    pricer,
			Engine:    eng,
			Metrics:   m,
		},
		Integrations: &integrations.Client{
			ZeroExKey:    settings.API0xKey,
			JupiterKey:   settings.APIJupiterKey,
			MagicEdenKey: settings.APIMagicEdenKey,
		},
		Metrics:            m,
		Hub:                hub,
		Env:                settings.Env,
		Commit:             commit,
		Describe:           describe,
		EnableLegacyWallet: settings.EnableLegacyWallet,
	}

	r := srv.SetupRouter()
	log.Printf("testnet gateway starting env=%s db=%s runs=%s commit=%s",
		settings.Env, settings.DBPath, settings.RunRoot, describe)
	if settings.EnableLegacyWallet {
		log.Printf("legacy wallet endpoints enabled")
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("listening on %s", addr)
	return r.Run(addr)
}

func main() {
	var (
		host    string
		port    int
		envFile string
	)
	root := &cobra.Command{
		Use:          "gateway",
		Short:        "Nyx testnet gateway server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(host, port, envFile)
		},
	}
	root.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	root.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	root.Flags().StringVar(&envFile, "env-file", "", "dotenv file loaded before validation")

	if err := root.Execute(); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}
