// Package config resolves server settings from flags, ACERVO_* environment
// variables and an optional .env file. Flags win over the environment, which
// wins over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/acervoteatro/acervo/internal/blob"
)

// Config holds everything cmd/acervo needs to start.
type Config struct {
	DB         string
	Addr       string
	AdminEmail string
	LogPath    string

	BlobDriver  string
	MediaDir    string
	MediaURL    string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// Usage is printed for -h.
const Usage = `Usage: acervo [flags]

Flags:
  -d, -db <dsn>             SQLite path or postgres:// URL (default: acervo.sqlite3)
  -a, -addr <host:port>     listen address (default: :8080)
  -u, -user <email>         admin email on first run (default: admin@acervo.local)
  -l, -log <path>           log file path (default: no file, stdout/stderr only)
  -blob <driver>            image store: fs or s3 (default: fs)
  -media-dir <path>         directory for the fs image store (default: media)
  -media-url <url>          public URL prefix of stored images (default: /media)
  -s3-bucket <name>         S3 bucket
  -s3-region <region>       S3 region
  -s3-endpoint <url>        S3-compatible endpoint
  -s3-path-style            use path-style S3 addressing
  -redis <host:port>        Redis address for caching and locks (default: disabled)
  -redis-password <pass>    Redis password
  -redis-db <n>             Redis database number
  -cache-ttl <duration>     listing cache TTL (default: 5m)
  -reconcile <duration>     reconciliation interval, 0 disables (default: 1m)
  -grace <duration>         reconciliation grace period (default: 5m)
  -h, -help                 show this help and exit

Every flag can also be set as ACERVO_<NAME> in the environment or a .env
file, e.g. ACERVO_DB, ACERVO_REDIS, ACERVO_S3_BUCKET.
`

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load parses args with defaults taken from getenv.
func Load(args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	env := envReader{getenv: getenv}
	cfg := &Config{}

	fset := flag.NewFlagSet("acervo", flag.ContinueOnError)
	fset.SetOutput(output)
	fset.Usage = func() { fmt.Fprint(output, Usage) }

	stringVar(fset, &cfg.DB, env.str("DB", "acervo.sqlite3"), "db", "d")
	stringVar(fset, &cfg.Addr, env.str("ADDR", ":8080"), "addr", "a")
	stringVar(fset, &cfg.AdminEmail, env.str("ADMIN_EMAIL", "admin@acervo.local"), "user", "u")
	stringVar(fset, &cfg.LogPath, env.str("LOG", ""), "log", "l")

	stringVar(fset, &cfg.BlobDriver, env.str("BLOB", string(blob.DriverFilesystem)), "blob")
	stringVar(fset, &cfg.MediaDir, env.str("MEDIA_DIR", "media"), "media-dir")
	stringVar(fset, &cfg.MediaURL, env.str("MEDIA_URL", "/media"), "media-url")
	stringVar(fset, &cfg.S3Bucket, env.str("S3_BUCKET", ""), "s3-bucket")
	stringVar(fset, &cfg.S3Region, env.str("S3_REGION", ""), "s3-region")
	stringVar(fset, &cfg.S3Endpoint, env.str("S3_ENDPOINT", ""), "s3-endpoint")

	stringVar(fset, &cfg.RedisAddr, env.str("REDIS", ""), "redis")
	stringVar(fset, &cfg.RedisPassword, env.str("REDIS_PASSWORD", ""), "redis-password")

	pathStyle := env.boolean("S3_PATH_STYLE", false)
	redisDB := env.integer("REDIS_DB", 0)
	cacheTTL := env.duration("CACHE_TTL", 5*time.Minute)
	interval := env.duration("RECONCILE", time.Minute)
	grace := env.duration("GRACE", 5*time.Minute)
	if env.err != nil {
		return nil, env.err
	}

	fset.BoolVar(&cfg.S3PathStyle, "s3-path-style", pathStyle, "")
	fset.IntVar(&cfg.RedisDB, "redis-db", redisDB, "")
	fset.DurationVar(&cfg.CacheTTL, "cache-ttl", cacheTTL, "")
	fset.DurationVar(&cfg.ReconcileInterval, "reconcile", interval, "")
	fset.DurationVar(&cfg.ReconcileGrace, "grace", grace, "")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if fset.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fset.Arg(0))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverFilesystem:
	case blob.DriverS3:
		if c.S3Bucket == "" {
			return errors.New("s3 image store requires a bucket")
		}
	default:
		return fmt.Errorf("unknown image store driver %q", c.BlobDriver)
	}
	if c.ReconcileInterval < 0 || c.ReconcileGrace < 0 || c.CacheTTL < 0 {
		return errors.New("durations must not be negative")
	}
	if c.DB == "" {
		return errors.New("database is required")
	}
	return nil
}

// Blob returns the image store configuration.
func (c *Config) Blob() blob.Config {
	return blob.Config{
		Driver:    blob.Driver(c.BlobDriver),
		FSRoot:    c.MediaDir,
		PublicURL: c.MediaURL,
		S3: blob.S3Config{
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			PathStyle: c.S3PathStyle,
		},
	}
}

func stringVar(fset *flag.FlagSet, p *string, value string, names ...string) {
	for _, name := range names {
		fset.StringVar(p, name, value, "")
	}
}

// envReader collects the first parse error so Load can report it once.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(name string) string {
	if e.getenv == nil {
		return ""
	}
	return strings.TrimSpace(e.getenv("ACERVO_" + name))
}

func (e *envReader) str(name, def string) string {
	if v := e.lookup(name); v != "" {
		return v
	}
	return def
}

func (e *envReader) boolean(name string, def bool) bool {
	v := e.lookup(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	return b
}

func (e *envReader) integer(name string, def int) int {
	v := e.lookup(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	return n
}

func (e *envReader) duration(name string, def time.Duration) time.Duration {
	v := e.lookup(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	return d
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("ACERVO_%s: %w", name, err)
	}
}
