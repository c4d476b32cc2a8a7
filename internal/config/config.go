// Package config loads and validates the gateway settings from an
// environment snapshot. Every knob is bounds-checked at load so a bad
// deployment fails at boot instead of at request time.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envDev     = "dev"
	envStaging = "staging"
	envProd    = "prod"

	addressMinLen       = 8
	sessionSecretMinLen = 32
	apiKeyMinLen        = 8

	devSessionSecret   = "testnet-session-secret"
	devTreasuryAddress = "0x0Aa313fCE773786C8425a13B96DB64205c5edCBc"
)

var uuidRE = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// Settings is the validated, immutable configuration snapshot.
type Settings struct {
	Env string

	Host string
	Port int

	DBPath  string
	RunRoot string

	PortalSessionSecret     string
	PortalChallengeTTL      time.Duration
	PortalSessionTTL        time.Duration
	TreasuryAddress         string
	PlatformFeeBPS          int
	ProtocolFeeMin          int64 // 0 means unset; executor minimum of 1 still applies
	FaucetCooldown          time.Duration
	FaucetMaxAmountPer24h   int64
	FaucetMaxClaimsPer24h   int64
	FaucetIPMaxClaimsPer24h int64

	EnableLegacyWallet bool

	RiskMode             string // off | monitor | enforce
	RiskErrorsPerMinOpen int
	GlobalMutationsPause bool

	ComplianceURL        string
	ComplianceFailClosed bool

	API0xKey       string
	APIJupiterKey  string
	APIMagicEdenKey string
	APIPayEVMKey   string
}

// Load snapshots the process environment (plus an optional dotenv file)
// through viper and validates it into a Settings value.
func Load(envFile string) (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("env file: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Settings, error) {
	env := strings.ToLower(strings.TrimSpace(v.GetString("NYX_ENV")))
	if env == "" {
		env = envDev
	}
	if env != envDev && env != envStaging && env != envProd {
		return nil, fmt.Errorf("NYX_ENV must be dev, staging, or prod")
	}

	secret := strings.TrimSpace(v.GetString("NYX_PORTAL_SESSION_SECRET"))
	if secret == "" {
		if env != envDev {
			return nil, fmt.Errorf("NYX_PORTAL_SESSION_SECRET required for staging/prod")
		}
		secret = devSessionSecret
	} else if env != envDev && len(secret) < sessionSecretMinLen {
		return nil, fmt.Errorf("NYX_PORTAL_SESSION_SECRET too short for staging/prod")
	}

	treasury := strings.TrimSpace(v.GetString("NYX_TESTNET_TREASURY_ADDRESS"))
	if treasury == "" {
		treasury = strings.TrimSpace(v.GetString("NYX_TESTNET_FEE_ADDRESS"))
	}
	if treasury == "" {
		if env != envDev {
			return nil, fmt.Errorf("NYX_TESTNET_TREASURY_ADDRESS required for staging/prod")
		}
		treasury = devTreasuryAddress
	} else if len(treasury) < addressMinLen {
		return nil, fmt.Errorf("NYX_TESTNET_TREASURY_ADDRESS too short")
	}

	challengeTTL, err := boundedInt(v, "NYX_PORTAL_CHALLENGE_TTL", 300, 60, 3600)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := boundedInt(v, "NYX_PORTAL_SESSION_TTL", 86400, 300, 30*86400)
	if err != nil {
		return nil, err
	}
	feeBPS, err := boundedInt(v, "NYX_PLATFORM_FEE_BPS", 10, 0, 10_000)
	if err != nil {
		return nil, err
	}
	feeMin, err := boundedInt(v, "NYX_PROTOCOL_FEE_MIN", 0, 0, 1_000_000_000)
	if err != nil {
		return nil, err
	}
	faucetCooldown, err := boundedInt(v, "NYX_FAUCET_COOLDOWN_SECONDS", 86400, 0, 30*86400)
	if err != nil {
		return nil, err
	}
	faucetMaxAmount, err := boundedInt(v, "NYX_FAUCET_MAX_AMOUNT_PER_24H", 1000, 0, 1_000_000_000)
	if err != nil {
		return nil, err
	}
	faucetMaxClaims, err := boundedInt(v, "NYX_FAUCET_MAX_CLAIMS_PER_24H", 1, 0, 1000)
	if err != nil {
		return nil, err
	}
	faucetIPMaxClaims, err := boundedInt(v, "NYX_FAUCET_IP_MAX_CLAIMS_PER_24H", 5, 0, 10_000)
	if err != nil {
		return nil, err
	}
	riskErrorsOpen, err := boundedInt(v, "NYX_RISK_ERRORS_PER_MIN_OPEN", 25, 1, 100_000)
	if err != nil {
		return nil, err
	}

	riskMode := strings.ToLower(strings.TrimSpace(v.GetString("NYX_RISK_MODE")))
	if riskMode == "" {
		riskMode = "monitor"
	}
	if riskMode != "off" && riskMode != "monitor" && riskMode != "enforce" {
		return nil, fmt.Errorf("NYX_RISK_MODE must be off, monitor, or enforce")
	}

	api0x, err := uuidKey(v, "NYX_0X_API_KEY")
	if err != nil {
		return nil, err
	}
	apiJup, err := uuidKey(v, "NYX_JUPITER_API_KEY")
	if err != nil {
		return nil, err
	}
	apiME, err := genericKey(v, "NYX_MAGIC_EDEN_API_KEY")
	if err != nil {
		return nil, err
	}
	apiPay, err := genericKey(v, "NYX_PAYEVM_API_KEY")
	if err != nil {
		return nil, err
	}

	dbPath := strings.TrimSpace(v.GetString("NYX_DB_PATH"))
	if dbPath == "" {
		dbPath = "data/gateway.db"
	}
	runRoot := strings.TrimSpace(v.GetString("NYX_RUN_ROOT"))
	if runRoot == "" {
		runRoot = "data/runs"
	}

	legacyWallet := env == envDev
	if v.IsSet("GATEWAY_ENABLE_LEGACY_WALLET") {
		legacyWallet = v.GetBool("GATEWAY_ENABLE_LEGACY_WALLET")
	}

	return &Settings{
		Env:                     env,
		Host:                    "0.0.0.0",
		Port:                    8091,
		DBPath:                  dbPath,
		RunRoot:                 runRoot,
		PortalSessionSecret:     secret,
		PortalChallengeTTL:      time.Duration(challengeTTL) * time.Second,
		PortalSessionTTL:        time.Duration(sessionTTL) * time.Second,
		TreasuryAddress:         treasury,
		PlatformFeeBPS:          int(feeBPS),
		ProtocolFeeMin:          feeMin,
		FaucetCooldown:          time.Duration(faucetCooldown) * time.Second,
		FaucetMaxAmountPer24h:   faucetMaxAmount,
		FaucetMaxClaimsPer24h:   faucetMaxClaims,
		FaucetIPMaxClaimsPer24h: faucetIPMaxClaims,
		EnableLegacyWallet:      legacyWallet,
		RiskMode:                riskMode,
		RiskErrorsPerMinOpen:    int(riskErrorsOpen),
		GlobalMutationsPause:    v.GetBool("NYX_GLOBAL_MUTATIONS_PAUSED"),
		ComplianceURL:           strings.TrimSpace(v.GetString("NYX_COMPLIANCE_URL")),
		ComplianceFailClosed:    v.GetBool("COMPLIANCE_FAIL_CLOSED"),
		API0xKey:                api0x,
		APIJupiterKey:           apiJup,
		APIMagicEdenKey:         apiME,
		APIPayEVMKey:            apiPay,
	}, nil
}

func boundedInt(v *viper.Viper, name string, def, min, max int64) (int64, error) {
	raw := strings.TrimSpace(v.GetString(name))
	if raw == "" {
		return def, nil
	}
	var value int64
	if _, err := fmt.Sscanf(raw, "%d", &value); err != nil {
		return 0, fmt.Errorf("%s must be int", name)
	}
	if value < min || value > max {
		return 0, fmt.Errorf("%s out of bounds", name)
	}
	return value, nil
}

func uuidKey(v *viper.Viper, name string) (string, error) {
	value := strings.TrimSpace(v.GetString(name))
	if value == "" {
		return "", nil
	}
	if !uuidRE.MatchString(value) {
		return "", fmt.Errorf("%s must be UUID format", name)
	}
	return value, nil
}

func genericKey(v *viper.Viper, name string) (string, error) {
	value := strings.TrimSpace(v.GetString(name))
	if value == "" {
		return "", nil
	}
	if len(value) < apiKeyMinLen {
		return "", fmt.Errorf("%s too short", name)
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return "", fmt.Errorf("%s invalid", name)
	}
	return value, nil
}
