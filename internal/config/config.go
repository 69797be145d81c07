package config

import (
    "errors"
    "fmt"
    "log/slog"
    "os"
    "strings"
    "time"

    "gopkg.in/yaml.v3"
)

// Config is built once at process start and handed to every constructor.
type Config struct {
    Database  Database  `yaml:"database"`
    Lims      Lims      `yaml:"lims"`
    Facility  string    `yaml:"facility"`
    Paths     Paths     `yaml:"paths"`
    Cluster   Cluster   `yaml:"cluster"`
    DataHost  DataHost  `yaml:"datahost"`
    Transfer  Transfer  `yaml:"transfer"`
    Alignment Alignment `yaml:"alignment"`
    SMTP      SMTP      `yaml:"smtp"`
    S3        S3        `yaml:"s3"`
    Log       Log       `yaml:"log"`
    HTTP      HTTP      `yaml:"http"`
    Watch     Watch     `yaml:"watch"`
}

type Database struct {
    Driver string `yaml:"driver"`
    URL    string `yaml:"url"`
}

type Lims struct {
    BaseURL  string        `yaml:"base_url"`
    Token    string        `yaml:"token"`
    Timeout  time.Duration `yaml:"timeout"`
    Lookback time.Duration `yaml:"lookback"`
}

type Paths struct {
    Incoming   string `yaml:"incoming"`
    Repository string `yaml:"repository"`
    Tmp        string `yaml:"tmp"`
}

type Cluster struct {
    Host        string `yaml:"host"`
    User        string `yaml:"user"`
    SSHKey      string `yaml:"ssh_key"`
    Scheduler   string `yaml:"scheduler"`
    WorkDir     string `yaml:"workdir"`
    GenomeDir   string `yaml:"genome_dir"`
    MemoryMB    int    `yaml:"memory_mb"`
    Threads     int    `yaml:"threads"`
    AutoRequeue bool   `yaml:"auto_requeue"`
}

// DataHost is where cluster jobs push their results back to.
type DataHost struct {
    Host string `yaml:"host"`
    User string `yaml:"user"`
}

type Transfer struct {
    Attempts int           `yaml:"attempts"`
    Sleep    time.Duration `yaml:"sleep"`
}

type Alignment struct {
    BWAAlgorithm    string        `yaml:"bwa_algorithm"`
    XcorLibTypes    []string      `yaml:"xcor_libtypes"`
    BarcodeMismatch int           `yaml:"barcode_mismatches"`
    ChainTimeout    time.Duration `yaml:"chain_timeout"`
}

type SMTP struct {
    Host   string   `yaml:"host"`
    Port   int      `yaml:"port"`
    From   string   `yaml:"from"`
    Admins []string `yaml:"admins"`
}

type S3 struct {
    Region    string `yaml:"region"`
    Endpoint  string `yaml:"endpoint"`
    PathStyle bool   `yaml:"path_style"`
}

type Log struct {
    File  string `yaml:"file"`
    Level string `yaml:"level"`
}

type HTTP struct {
    Listen string `yaml:"listen"`
}

type Watch struct {
    Interval time.Duration `yaml:"interval"`
    Workers  int           `yaml:"workers"`
}

func Default() Config {
    return Config{
        Database: Database{Driver: "postgres"},
        Lims:     Lims{Timeout: 60 * time.Second, Lookback: 72 * time.Hour},
        Facility: "CRI",
        Paths:    Paths{Incoming: "/data/incoming", Repository: "/data/repository", Tmp: os.TempDir()},
        Cluster: Cluster{
            Scheduler:   "lsf",
            WorkDir:     "/scratch/osqpipe",
            GenomeDir:   "/scratch/genomes",
            MemoryMB:    8000,
            Threads:     4,
            AutoRequeue: true,
        },
        Transfer:  Transfer{Attempts: 2, Sleep: 2 * time.Second},
        Alignment: Alignment{XcorLibTypes: []string{"chipseq"}, ChainTimeout: 72 * time.Hour},
        SMTP:      SMTP{Port: 25},
        Log:       Log{File: "/tmp/osqpipe.log", Level: "INFO"},
        HTTP:      HTTP{Listen: ":8080"},
        Watch:     Watch{Interval: 15 * time.Minute, Workers: 1},
    }
}

func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func getenvInt(key string, def int) int {
    if v := os.Getenv(key); v != "" {
        var out int
        _, err := fmt.Sscanf(v, "%d", &out)
        if err == nil { return out }
    }
    return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
    if v := os.Getenv(key); v != "" {
        if d, err := time.ParseDuration(v); err == nil { return d }
    }
    return def
}

// Load reads the YAML file at path (OSQPIPE_CONFIG when empty, skipped when
// neither is set) over the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
    cfg := Default()
    if path == "" { path = os.Getenv("OSQPIPE_CONFIG") }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil { return cfg, fmt.Errorf("read config: %w", err) }
        if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, fmt.Errorf("parse config %s: %w", path, err) }
    }
    cfg.applyEnv()
    return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
    c.Database.Driver = getenv("OSQPIPE_DATABASE_DRIVER", c.Database.Driver)
    c.Database.URL = getenv("OSQPIPE_DATABASE_URL", getenv("DATABASE_URL", c.Database.URL))
    c.Lims.BaseURL = getenv("OSQPIPE_LIMS_URL", c.Lims.BaseURL)
    c.Lims.Token = getenv("OSQPIPE_LIMS_TOKEN", c.Lims.Token)
    c.Facility = getenv("OSQPIPE_FACILITY", c.Facility)
    c.Paths.Incoming = getenv("OSQPIPE_INCOMING_DIR", c.Paths.Incoming)
    c.Paths.Repository = getenv("OSQPIPE_REPOSITORY_DIR", c.Paths.Repository)
    c.Cluster.Host = getenv("OSQPIPE_CLUSTER_HOST", c.Cluster.Host)
    c.Cluster.User = getenv("OSQPIPE_CLUSTER_USER", c.Cluster.User)
    c.Cluster.Scheduler = getenv("OSQPIPE_SCHEDULER", c.Cluster.Scheduler)
    c.Transfer.Attempts = getenvInt("OSQPIPE_TRANSFER_ATTEMPTS", c.Transfer.Attempts)
    c.Transfer.Sleep = getenvDuration("OSQPIPE_TRANSFER_SLEEP", c.Transfer.Sleep)
    c.SMTP.Host = getenv("OSQPIPE_SMTP_HOST", c.SMTP.Host)
    c.Log.File = getenv("OSQPIPE_LOG_FILE", c.Log.File)
    c.Log.Level = getenv("OSQPIPE_LOG_LEVEL", c.Log.Level)
    c.HTTP.Listen = getenv("LISTEN_ADDR", c.HTTP.Listen)
    c.Watch.Interval = getenvDuration("OSQPIPE_WATCH_INTERVAL", c.Watch.Interval)
    c.Watch.Workers = getenvInt("OSQPIPE_WATCH_WORKERS", c.Watch.Workers)
}

func (c Config) Validate() error {
    var errs []error
    switch c.Database.Driver {
    case "postgres", "sqlite":
    default:
        errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
    }
    switch c.Cluster.Scheduler {
    case "lsf", "slurm":
    default:
        errs = append(errs, fmt.Errorf("unknown cluster scheduler %q", c.Cluster.Scheduler))
    }
    if c.Transfer.Attempts < 1 { errs = append(errs, fmt.Errorf("transfer attempts must be positive, got %d", c.Transfer.Attempts)) }
    if c.Watch.Interval <= 0 { errs = append(errs, fmt.Errorf("watch interval must be positive, got %s", c.Watch.Interval)) }
    if c.Watch.Workers < 1 { errs = append(errs, fmt.Errorf("watch workers must be positive, got %d", c.Watch.Workers)) }
    if c.Facility == "" { errs = append(errs, errors.New("facility code is required")) }
    return errors.Join(errs...)
}

// IsXcorLibType reports whether alignments of this library type get a
// cross-correlation QC report.
func (c Config) IsXcorLibType(libtype string) bool {
    for _, t := range c.Alignment.XcorLibTypes {
        if strings.EqualFold(t, libtype) { return true }
    }
    return false
}

// LogLevel parses the configured level name.
func (c Config) LogLevel() slog.Level { return parseLogLevel(c.Log.Level) }

func parseLogLevel(s string) slog.Level {
    switch strings.ToUpper(s) {
    case "DEBUG":
        return slog.LevelDebug
    case "WARN", "WARNING":
        return slog.LevelWarn
    case "ERROR":
        return slog.LevelError
    default:
        return slog.LevelInfo
    }
}
