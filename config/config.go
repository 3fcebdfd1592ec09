package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/topup/internal/domain"
)

const (
	VenueUniswapV2  = "uniswap-v2"
	VenueAggregator = "aggregator"
)

// Config is the validated, immutable process configuration.
type Config struct {
	EthRPCURL         string
	EthPrivateKeyPath string
	// EthChainID zero means the chain id is read from the RPC endpoint.
	EthChainID int64

	AOWalletPath      string
	AOCUURL           string
	AOMUURL           string
	ArweaveGraphQLURL string

	// TargetWallet AO address that must stay funded.
	TargetWallet string

	// SourceToken ERC-20 spent to acquire the target token.
	SourceToken domain.Token
	// SwapOutputToken ERC-20 representation of the target token on the EVM chain.
	SwapOutputToken domain.Token
	// TargetToken token process on AO.
	TargetToken domain.Token
	// GasToken native token of the EVM chain.
	GasToken domain.Token

	SwapVenue        string
	UniswapPair      string
	UniswapRouter    string
	UniswapFeeBps    int
	AggregatorURL    string
	AggregatorAPIKey string
	BridgeContract   string

	MinBalance        decimal.Decimal
	TargetBalance     decimal.Decimal
	MinTransfer       decimal.Decimal
	MaxPriceImpact    decimal.Decimal
	SlippageTolerance decimal.Decimal
	SwapBuffer        decimal.Decimal
	MinGasBalance     decimal.Decimal

	SettlementWait        time.Duration
	BridgePollInterval    time.Duration
	BridgeMaxWait         time.Duration
	BridgeMaxCreditAge    time.Duration
	BridgeAmountTolerance decimal.Decimal

	CronSchedule string
	DryRun       bool

	Slack SlackConfig

	LedgerPath            string
	LedgerBackupSchedule  string
	LedgerBackupRetention time.Duration
	JournalDir            string

	LogLevel    string
	LogFile     string
	MetricsAddr string
}

// SlackConfig holds the notification sink settings.
type SlackConfig struct {
	Enabled  bool
	BotToken string
	Channel  string
}

// ConfigurationError lists every invalid or missing setting.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Problems returns the individual validation failures.
func (e *ConfigurationError) Problems() []error {
	return multierr.Errors(e.Err)
}

// defaults lists every recognized key. Keys absent here are ignored.
var defaults = map[string]string{
	"ETH_RPC_URL":                "",
	"ETH_PRIVATE_KEY_PATH":       "",
	"ETH_CHAIN_ID":               "0",
	"AO_WALLET_PATH":             "",
	"AO_CU_URL":                  "https://cu.ao-testnet.xyz",
	"AO_MU_URL":                  "https://mu.ao-testnet.xyz",
	"ARWEAVE_GRAPHQL_URL":        "https://arweave.net/graphql",
	"TARGET_WALLET":              "",
	"SOURCE_TOKEN_ADDRESS":       "",
	"SOURCE_TOKEN_SYMBOL":        "USDC",
	"SOURCE_TOKEN_DECIMALS":      "6",
	"TARGET_TOKEN_ADDRESS":       "",
	"TARGET_TOKEN_SYMBOL":        "ARIO",
	"TARGET_TOKEN_DECIMALS":      "6",
	"TARGET_TOKEN_PROCESS_ID":    "",
	"SWAP_VENUE":                 VenueUniswapV2,
	"UNISWAP_PAIR_ADDRESS":       "",
	"UNISWAP_ROUTER_ADDRESS":     "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
	"UNISWAP_FEE_BPS":            "30",
	"AGGREGATOR_URL":             "https://api.0x.org",
	"AGGREGATOR_API_KEY":         "",
	"BRIDGE_CONTRACT_ADDRESS":    "",
	"MIN_BALANCE":                "",
	"TARGET_BALANCE":             "",
	"MIN_TRANSFER":               "1",
	"MAX_PRICE_IMPACT":           "5",
	"SLIPPAGE_TOLERANCE_PERCENT": "1",
	"SWAP_BUFFER_PERCENT":        "1",
	"MIN_GAS_BALANCE":            "0.01",
	"SETTLEMENT_WAIT":            "15s",
	"BRIDGE_POLL_INTERVAL":       "30s",
	"BRIDGE_MAX_WAIT":            "20m",
	"BRIDGE_AMOUNT_TOLERANCE":    "0.001",
	"BRIDGE_MAX_CREDIT_AGE":      "1h",
	"CRON_SCHEDULE":              "0 */6 * * *",
	"DRY_RUN":                    "false",
	"SLACK_ENABLED":              "false",
	"SLACK_BOT_TOKEN":            "",
	"SLACK_CHANNEL":              "",
	"LEDGER_PATH":                "./data/transactions.csv",
	"LEDGER_BACKUP_SCHEDULE":     "0 0 * * *",
	"LEDGER_BACKUP_RETENTION":    "720h",
	"JOURNAL_DIR":                "./wal/intents",
	"LOG_LEVEL":                  "info",
	"LOG_FILE":                   "",
	"METRICS_ADDR":               "",
}

var requiredKeys = []string{
	"ETH_RPC_URL",
	"ETH_PRIVATE_KEY_PATH",
	"AO_WALLET_PATH",
	"TARGET_WALLET",
	"SOURCE_TOKEN_ADDRESS",
	"TARGET_TOKEN_ADDRESS",
	"TARGET_TOKEN_PROCESS_ID",
	"MIN_BALANCE",
	"TARGET_BALANCE",
}

var (
	aoIDPattern         = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)
	placeholderPatterns = []string{"your_", "your-", "changeme", "placeholder", "xxx"}
	scheduleParser      = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Get loads configuration from the optional --config YAML file, the .env file and
// the process environment (highest precedence), then validates it.
func Get() (Config, error) {
	path := flag.String("config", "", "path to yaml config with the same keys as the environment")
	flag.Parse()

	values := make(map[string]string, len(defaults))
	if *path != "" {
		fileValues, err := readYaml(*path)
		if err != nil {
			return Config{}, &ConfigurationError{Err: err}
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, &ConfigurationError{Err: errors.Wrap(err, "load .env")}
	}
	for key := range defaults {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}

	return FromMap(values)
}

func readYaml(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}

	out := make(map[string]string, len(parsed))
	for k, v := range parsed {
		key := strings.ToUpper(strings.TrimSpace(k))
		if _, known := defaults[key]; !known {
			return nil, fmt.Errorf("unknown key %q in config file %s", k, path)
		}
		out[key] = fmt.Sprint(v)
	}
	return out, nil
}

// FromMap builds and validates a Config from raw key/value settings; missing keys take defaults.
func FromMap(values map[string]string) (Config, error) {
	p := &parser{values: values}

	c := Config{
		EthRPCURL:         p.str("ETH_RPC_URL"),
		EthPrivateKeyPath: p.str("ETH_PRIVATE_KEY_PATH"),
		EthChainID:        p.int64("ETH_CHAIN_ID"),
		AOWalletPath:      p.str("AO_WALLET_PATH"),
		AOCUURL:           strings.TrimRight(p.str("AO_CU_URL"), "/"),
		AOMUURL:           strings.TrimRight(p.str("AO_MU_URL"), "/"),
		ArweaveGraphQLURL: p.str("ARWEAVE_GRAPHQL_URL"),
		TargetWallet:      p.str("TARGET_WALLET"),

		SwapVenue:        strings.ToLower(p.str("SWAP_VENUE")),
		UniswapPair:      p.str("UNISWAP_PAIR_ADDRESS"),
		UniswapRouter:    p.str("UNISWAP_ROUTER_ADDRESS"),
		UniswapFeeBps:    int(p.int64("UNISWAP_FEE_BPS")),
		AggregatorURL:    strings.TrimRight(p.str("AGGREGATOR_URL"), "/"),
		AggregatorAPIKey: p.str("AGGREGATOR_API_KEY"),
		BridgeContract:   p.str("BRIDGE_CONTRACT_ADDRESS"),

		MinBalance:        p.decimal("MIN_BALANCE"),
		TargetBalance:     p.decimal("TARGET_BALANCE"),
		MinTransfer:       p.decimal("MIN_TRANSFER"),
		MaxPriceImpact:    p.decimal("MAX_PRICE_IMPACT"),
		SlippageTolerance: p.decimal("SLIPPAGE_TOLERANCE_PERCENT"),
		SwapBuffer:        p.decimal("SWAP_BUFFER_PERCENT"),
		MinGasBalance:     p.decimal("MIN_GAS_BALANCE"),

		SettlementWait:        p.duration("SETTLEMENT_WAIT"),
		BridgePollInterval:    p.duration("BRIDGE_POLL_INTERVAL"),
		BridgeMaxWait:         p.duration("BRIDGE_MAX_WAIT"),
		BridgeMaxCreditAge:    p.duration("BRIDGE_MAX_CREDIT_AGE"),
		BridgeAmountTolerance: p.decimal("BRIDGE_AMOUNT_TOLERANCE"),

		CronSchedule: p.str("CRON_SCHEDULE"),
		DryRun:       p.bool("DRY_RUN"),

		Slack: SlackConfig{
			Enabled:  p.bool("SLACK_ENABLED"),
			BotToken: p.str("SLACK_BOT_TOKEN"),
			Channel:  p.str("SLACK_CHANNEL"),
		},

		LedgerPath:            p.str("LEDGER_PATH"),
		LedgerBackupSchedule:  p.str("LEDGER_BACKUP_SCHEDULE"),
		LedgerBackupRetention: p.duration("LEDGER_BACKUP_RETENTION"),
		JournalDir:            p.str("JOURNAL_DIR"),

		LogLevel:    strings.ToLower(p.str("LOG_LEVEL")),
		LogFile:     p.str("LOG_FILE"),
		MetricsAddr: p.str("METRICS_ADDR"),
	}

	c.SourceToken = p.token("SOURCE_TOKEN_SYMBOL", domain.LedgerEthereum, "SOURCE_TOKEN_ADDRESS", "SOURCE_TOKEN_DECIMALS")
	c.SwapOutputToken = p.token("TARGET_TOKEN_SYMBOL", domain.LedgerEthereum, "TARGET_TOKEN_ADDRESS", "TARGET_TOKEN_DECIMALS")
	c.TargetToken = p.token("TARGET_TOKEN_SYMBOL", domain.LedgerAO, "TARGET_TOKEN_PROCESS_ID", "TARGET_TOKEN_DECIMALS")
	c.GasToken = domain.Token{Symbol: "ETH", Ledger: domain.LedgerEthereum, Decimals: 18}

	if c.BridgeContract == "" {
		c.BridgeContract = c.SwapOutputToken.ID
	}

	err := multierr.Combine(p.missing(requiredKeys...), p.err, c.validate())
	if err != nil {
		return Config{}, &ConfigurationError{Err: err}
	}

	return c, nil
}

func (c Config) validate() error {
	var err error
	fail := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}

	for _, addr := range []struct{ key, value string }{
		{"SOURCE_TOKEN_ADDRESS", c.SourceToken.ID},
		{"TARGET_TOKEN_ADDRESS", c.SwapOutputToken.ID},
		{"BRIDGE_CONTRACT_ADDRESS", c.BridgeContract},
	} {
		if addr.value != "" && !isHexAddress(addr.value) {
			fail("%s must be a 0x-prefixed 20-byte hex address, got %q", addr.key, addr.value)
		}
	}
	if c.TargetWallet != "" && !aoIDPattern.MatchString(c.TargetWallet) {
		fail("TARGET_WALLET must be a 43 character AO address, got %q", c.TargetWallet)
	}
	if c.TargetToken.ID != "" && !aoIDPattern.MatchString(c.TargetToken.ID) {
		fail("TARGET_TOKEN_PROCESS_ID must be a 43 character AO process id, got %q", c.TargetToken.ID)
	}

	switch c.SwapVenue {
	case VenueUniswapV2:
		if !isHexAddress(c.UniswapPair) {
			fail("UNISWAP_PAIR_ADDRESS must be a hex address for venue %s", VenueUniswapV2)
		}
		if !isHexAddress(c.UniswapRouter) {
			fail("UNISWAP_ROUTER_ADDRESS must be a hex address for venue %s", VenueUniswapV2)
		}
		if c.UniswapFeeBps < 0 || c.UniswapFeeBps >= 10000 {
			fail("UNISWAP_FEE_BPS must be in [0,10000), got %d", c.UniswapFeeBps)
		}
	case VenueAggregator:
		if !strings.HasPrefix(c.AggregatorURL, "http") {
			fail("AGGREGATOR_URL must be an http(s) URL for venue %s", VenueAggregator)
		}
	default:
		fail("SWAP_VENUE must be %s or %s, got %q", VenueUniswapV2, VenueAggregator, c.SwapVenue)
	}

	if c.MinBalance.IsNegative() {
		fail("MIN_BALANCE must not be negative")
	}
	if c.TargetBalance.LessThan(c.MinBalance) {
		fail("TARGET_BALANCE (%s) must be >= MIN_BALANCE (%s)", c.TargetBalance, c.MinBalance)
	}
	if c.MinTransfer.IsNegative() {
		fail("MIN_TRANSFER must not be negative")
	}
	if !c.MaxPriceImpact.IsPositive() || c.MaxPriceImpact.GreaterThan(decimal.NewFromInt(100)) {
		fail("MAX_PRICE_IMPACT must be in (0,100], got %s", c.MaxPriceImpact)
	}
	if c.SlippageTolerance.IsNegative() || c.SlippageTolerance.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		fail("SLIPPAGE_TOLERANCE_PERCENT must be in [0,100), got %s", c.SlippageTolerance)
	}
	if c.SwapBuffer.IsNegative() {
		fail("SWAP_BUFFER_PERCENT must not be negative")
	}
	if c.BridgeAmountTolerance.IsNegative() || c.BridgeAmountTolerance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		fail("BRIDGE_AMOUNT_TOLERANCE must be a fraction in [0,1), got %s", c.BridgeAmountTolerance)
	}

	if c.BridgePollInterval <= 0 || c.BridgeMaxWait <= 0 || c.BridgeMaxCreditAge <= 0 {
		fail("bridge poll interval, max wait and max credit age must be positive")
	} else if c.BridgePollInterval > c.BridgeMaxWait {
		fail("BRIDGE_POLL_INTERVAL (%s) must not exceed BRIDGE_MAX_WAIT (%s)", c.BridgePollInterval, c.BridgeMaxWait)
	}
	if c.SettlementWait < 0 {
		fail("SETTLEMENT_WAIT must not be negative")
	}

	if perr := ValidateSchedule(c.CronSchedule); perr != nil {
		fail("CRON_SCHEDULE: %v", perr)
	}
	if perr := ValidateSchedule(c.LedgerBackupSchedule); perr != nil {
		fail("LEDGER_BACKUP_SCHEDULE: %v", perr)
	}

	if c.Slack.Enabled {
		if isPlaceholder(c.Slack.BotToken) {
			fail("SLACK_BOT_TOKEN must be a real token when SLACK_ENABLED=true")
		}
		if strings.TrimSpace(c.Slack.Channel) == "" {
			fail("SLACK_CHANNEL is required when SLACK_ENABLED=true")
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		fail("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}

	return err
}

// ValidateSchedule checks that expr is a 5 or 6 field cron expression.
func ValidateSchedule(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 && len(fields) != 6 {
		return fmt.Errorf("expected 5 or 6 fields, got %d in %q", len(fields), expr)
	}
	if _, err := scheduleParser.Parse(expr); err != nil {
		return errors.Wrapf(err, "parse %q", expr)
	}
	return nil
}

// ScheduleParser returns the cron parser used for all schedules.
func ScheduleParser() cron.Parser {
	return scheduleParser
}

func isPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return true
	}
	for _, p := range placeholderPatterns {
		if strings.Contains(v, p) {
			return true
		}
	}
	return false
}

// isHexAddress requires the 0x prefix, which common.IsHexAddress treats as optional.
func isHexAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// parser reads typed values and accumulates parse errors.
type parser struct {
	values map[string]string
	err    error
}

func (p *parser) raw(key string) (string, bool) {
	if v, ok := p.values[key]; ok {
		return strings.TrimSpace(v), true
	}
	v, ok := defaults[key]
	return v, ok && v != ""
}

func (p *parser) missing(keys ...string) error {
	var err error
	for _, key := range keys {
		if v, _ := p.raw(key); v == "" {
			err = multierr.Append(err, fmt.Errorf("%s is required", key))
		}
	}
	return err
}

func (p *parser) str(key string) string {
	v, _ := p.raw(key)
	return v
}

func (p *parser) fail(key string, v string, err error) {
	p.err = multierr.Append(p.err, errors.Wrapf(err, "%s=%q", key, v))
}

func (p *parser) int64(key string) int64 {
	v, ok := p.raw(key)
	if !ok || v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
	}
	return n
}

func (p *parser) bool(key string) bool {
	v, ok := p.raw(key)
	if !ok || v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
	}
	return b
}

func (p *parser) decimal(key string) decimal.Decimal {
	v, ok := p.raw(key)
	if !ok || v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, v, err)
	}
	return d
}

func (p *parser) duration(key string) time.Duration {
	v, ok := p.raw(key)
	if !ok || v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
	}
	return d
}

func (p *parser) token(symbolKey string, ledger domain.Ledger, idKey, decimalsKey string) domain.Token {
	decimals := p.int64(decimalsKey)
	if decimals < 0 || decimals > domain.MaxDecimals {
		p.fail(decimalsKey, strconv.FormatInt(decimals, 10), fmt.Errorf("decimals must be in [0,%d]", domain.MaxDecimals))
		decimals = 0
	}
	return domain.Token{
		Symbol:   p.str(symbolKey),
		Ledger:   ledger,
		ID:       p.str(idKey),
		Decimals: uint8(decimals),
	}
}
