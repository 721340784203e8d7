package repo

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/natefinch/lumberjack"
	"github.com/op/go-logging"

	"github.com/cpacia/xmr-escrow/database/sqldb"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/version"
)

const (
	defaultConfigFilename = "escrowd.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "escrowd.log"

	// DefaultDisputeTimeout is the default inactivity period after which
	// a funded or shipped escrow is disputed.
	DefaultDisputeTimeout = 14 * 24 * time.Hour

	// DefaultMonitorInterval is the default timeout monitor period.
	DefaultMonitorInterval = time.Minute
)

var (
	// DefaultHomeDir is the OS specific application data directory.
	DefaultHomeDir    = btcutil.AppDataDir("xmr-escrow", false)
	defaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(DefaultHomeDir, defaultLogDirname)

	fileLogFormat   = logging.MustStringFormatter(`%{time:2006-01-02T15:04:05} [%{level}] [%{module}] %{message}`)
	stdoutLogFormat = logging.MustStringFormatter(`%{color:reset}%{color}%{time:15:04:05.000} [%{level}] [%{module}] %{message}`)
)

// Config defines the configuration options for the escrow daemon.
//
// See LoadConfig for details on the configuration load process.
type Config struct {
	ShowVersion bool   `short:"v" long:"version" description:"Display version information and exit" no-ini:"true"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file" no-ini:"true"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	LogLevel    string `short:"l" long:"loglevel" description:"set the logging level [debug, info, notice, warning, error, critical]" default:"info"`

	DBDialect string `long:"dbdialect" description:"The database backend to use" choice:"sqlite" choice:"postgres" choice:"memory" default:"sqlite"`
	DBDSN     string `long:"dbdsn" description:"Connection string for the postgres backend"`

	WalletTimeout     time.Duration `long:"wallettimeout" description:"Timeout for a single wallet rpc request" default:"30s"`
	WalletRetries     int           `long:"walletretries" description:"Number of retries for idempotent wallet rpc calls" default:"3"`
	WalletMaxInFlight int           `long:"walletmaxinflight" description:"Maximum number of concurrent wallet rpc requests per daemon" default:"4"`
	WalletRateLimit   float64       `long:"walletratelimit" description:"Maximum wallet rpc requests per second per daemon. Zero disables the limit." default:"10"`
	WalletRPCUser     string        `long:"walletrpcuser" description:"Username for the wallet daemons' rpc login"`
	WalletRPCPassword string        `long:"walletrpcpassword" description:"Password for the wallet daemons' rpc login"`
	WalletPassword    string        `long:"walletpassword" description:"Password protecting the multisig wallet files"`

	TorProxy string `long:"torproxy" description:"Address of the Tor socks5 proxy used to reach .onion wallet daemons. Autodetected if unset."`

	RedisAddr     string `long:"redisaddr" description:"Address of a redis server used to exchange multisig info between participants"`
	RedisPassword string `long:"redispassword" description:"Password for the redis server"`
	RedisDB       int    `long:"redisdb" description:"Redis database number"`

	DisputeTimeout  time.Duration `long:"disputetimeout" description:"Inactivity period after which a funded or shipped escrow is moved to disputed" default:"336h"`
	MonitorInterval time.Duration `long:"monitorinterval" description:"How often escrows are checked for the dispute timeout" default:"1m"`

	CompletionWebhook string `long:"completionwebhook" description:"URL that receives escrow_completed notifications"`
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// The above results in the daemon functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options. Command line options always take precedence.
func LoadConfig() (*Config, []string, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, []string, error) {
	// Default config.
	cfg := Config{
		DataDir:    DefaultHomeDir,
		ConfigFile: defaultConfigFile,
		LogDir:     defaultLogDir,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified. Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.IgnoreUnknown)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default|flags.IgnoreUnknown)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a "+
				"default config file: %v\n", err)
		}
	}

	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}
	cfg.ConfigFile = preCfg.ConfigFile

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	setupLogging(cfg.LogDir, cfg.LogLevel)

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		log.Warningf("%v", configFileError)
	}
	return &cfg, remainingArgs, nil
}

// Validate checks that the loaded values are usable.
func (cfg *Config) Validate() error {
	switch cfg.DBDialect {
	case sqldb.DialectSqlite, sqldb.DialectMemory:
	case sqldb.DialectPostgres:
		if cfg.DBDSN == "" {
			return errors.ErrConfig.New("dbdsn is required for the postgres backend")
		}
	default:
		return errors.ErrConfig.Newf("unknown dbdialect %q", cfg.DBDialect)
	}
	if cfg.WalletTimeout <= 0 {
		return errors.ErrConfig.New("wallettimeout must be positive")
	}
	if cfg.WalletRetries < 0 {
		return errors.ErrConfig.New("walletretries must not be negative")
	}
	if cfg.WalletMaxInFlight < 1 {
		return errors.ErrConfig.New("walletmaxinflight must be at least one")
	}
	if cfg.WalletRateLimit < 0 {
		return errors.ErrConfig.New("walletratelimit must not be negative")
	}
	if cfg.WalletRPCPassword != "" && cfg.WalletRPCUser == "" {
		return errors.ErrConfig.New("walletrpcpassword requires walletrpcuser")
	}
	if cfg.DisputeTimeout <= 0 {
		return errors.ErrConfig.New("disputetimeout must be positive")
	}
	if cfg.MonitorInterval <= 0 {
		return errors.ErrConfig.New("monitorinterval must be positive")
	}
	return nil
}

// createDefaultConfigFile writes a config file containing every option,
// commented out and set to its default, to the given destination path.
func createDefaultConfigFile(destinationPath string) error {
	// Create the destination directory if it does not exists
	err := os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	// Parsing no arguments fills every option with its default so that
	// each one is written as a commented out line.
	var cfg Config
	parser := flags.NewParser(&cfg, flags.None)
	if _, err := parser.ParseArgs([]string{}); err != nil {
		return err
	}
	return flags.NewIniParser(parser).WriteFile(destinationPath,
		flags.IniIncludeComments|flags.IniIncludeDefaults|flags.IniCommentDefaults)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = filepath.Dir(DefaultHomeDir)
		}
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func setupLogging(logDir, logLevel string) {
	backendStdout := logging.NewLogBackend(os.Stdout, "", 0)
	backendStdoutFormatter := logging.NewBackendFormatter(backendStdout, stdoutLogFormat)

	if logDir != "" {
		rotator := &lumberjack.Logger{
			Filename:   path.Join(logDir, defaultLogFilename),
			MaxSize:    10, // Megabytes
			MaxBackups: 3,
			MaxAge:     30, // Days
		}

		backendFile := logging.NewLogBackend(rotator, "", 0)
		backendFileFormatter := logging.NewBackendFormatter(backendFile, fileLogFormat)
		logging.SetBackend(backendStdoutFormatter, backendFileFormatter)
	} else {
		logging.SetBackend(backendStdoutFormatter)
	}

	logging.SetLevel(parseLevel(logLevel), "")
}

func parseLevel(logLevel string) logging.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return logging.DEBUG
	case "info":
		return logging.INFO
	case "notice":
		return logging.NOTICE
	case "warning":
		return logging.WARNING
	case "error":
		return logging.ERROR
	case "critical":
		return logging.CRITICAL
	default:
		return logging.INFO
	}
}
