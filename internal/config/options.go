package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Options holds every setting of the relay process. Defaults come from
// PROXY_RELAY_* environment variables, a YAML file may override them, and
// command-line flags override both.
type Options struct {
	HTTPListen    string `yaml:"http_listen"`
	SOCKSListen   string `yaml:"socks_listen"`
	DebugListen   string `yaml:"debug_listen"`
	UpstreamsFile string `yaml:"upstreams_file"`
	SheetFile     string `yaml:"sheet_file"`

	DialTimeout        time.Duration `yaml:"dial_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	TCPKeepAlive       string        `yaml:"tcp_keepalive"`
	ReusePort          bool          `yaml:"reuse_port"`

	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogFile       string `yaml:"log_file"`
	TrafficLog    string `yaml:"traffic_log"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
	LogCompress   bool   `yaml:"log_compress"`

	SessionIDMode       string        `yaml:"session_id_mode"`
	UsageReportInterval time.Duration `yaml:"usage_report_interval"`

	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingInsecure bool   `yaml:"tracing_insecure"`
}

// Defaults returns Options populated from the environment, falling back to
// built-in values.
func Defaults() Options {
	e := func(name string) string { return EnvPrefix + name }
	return Options{
		HTTPListen:    GetStringEnv(e("HTTP_LISTEN"), ":8000"),
		SOCKSListen:   GetStringEnv(e("SOCKS_LISTEN"), "0.0.0.0:1080"),
		DebugListen:   GetStringEnv(e("DEBUG_LISTEN"), ""),
		UpstreamsFile: GetStringEnv(e("UPSTREAMS_FILE"), "proxies.txt"),
		SheetFile:     GetStringEnv(e("SHEET_FILE"), "user_proxies.txt"),

		DialTimeout:        GetDurationEnv(e("DIAL_TIMEOUT"), 10*time.Second),
		NegotiationTimeout: GetDurationEnv(e("NEGOTIATION_TIMEOUT"), 10*time.Second),
		TCPKeepAlive:       GetStringEnv(e("TCP_KEEPALIVE"), "45:45:3"),
		ReusePort:          GetBoolEnv(e("REUSE_PORT"), false),

		LogLevel:      GetStringEnv(e("LOG_LEVEL"), "info"),
		LogFormat:     GetStringEnv(e("LOG_FORMAT"), "text"),
		LogFile:       GetStringEnv(e("LOG_FILE"), ""),
		TrafficLog:    GetStringEnv(e("TRAFFIC_LOG"), ""),
		LogMaxSizeMB:  GetIntEnv(e("LOG_MAX_SIZE_MB"), 20),
		LogMaxBackups: GetIntEnv(e("LOG_MAX_BACKUPS"), 14),
		LogMaxAgeDays: GetIntEnv(e("LOG_MAX_AGE_DAYS"), 30),
		LogCompress:   GetBoolEnv(e("LOG_COMPRESS"), true),

		SessionIDMode:       GetStringEnv(e("SESSION_ID_MODE"), "uuid"),
		UsageReportInterval: GetDurationEnv(e("USAGE_REPORT_INTERVAL"), 0),

		TracingEnabled:  GetBoolEnv(e("TRACING_ENABLED"), false),
		TracingExporter: GetStringEnv(e("TRACING_EXPORTER"), "stdout"),
		TracingEndpoint: GetStringEnv(e("TRACING_ENDPOINT"), ""),
		TracingInsecure: GetBoolEnv(e("TRACING_INSECURE"), false),
	}
}

// BindFlags registers a flag for every option, bound to o's fields and
// defaulting to their current values.
func BindFlags(fs *pflag.FlagSet, o *Options) {
	fs.StringVar(&o.HTTPListen, "http-listen", o.HTTPListen, "HTTP/HTTPS forward proxy listen address")
	fs.StringVar(&o.SOCKSListen, "socks-listen", o.SOCKSListen, "SOCKS5 proxy listen address")
	fs.StringVar(&o.DebugListen, "debug-listen", o.DebugListen, "Debug HTTP listen address exposing /debug/pprof, /metrics and /usage. Empty disables.")
	fs.StringVar(&o.UpstreamsFile, "upstreams", o.UpstreamsFile, "File listing upstream HTTP proxies, one per line")
	fs.StringVar(&o.SheetFile, "sheet", o.SheetFile, "File the per-user proxy URLs are written to")

	fs.DurationVar(&o.DialTimeout, "dial-timeout", o.DialTimeout, "Timeout for DNS lookup and TCP connect to an upstream proxy")
	fs.DurationVar(&o.NegotiationTimeout, "negotiation-timeout", o.NegotiationTimeout, "Timeout for client handshakes and upstream CONNECT exchanges")
	fs.StringVar(&o.TCPKeepAlive, "tcp-keepalive", o.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.BoolVar(&o.ReusePort, "reuse-port", o.ReusePort, "Set SO_REUSEADDR/SO_REUSEPORT on listeners (Linux only)")

	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&o.LogFormat, "log-format", o.LogFormat, "Log format (text or json)")
	fs.StringVar(&o.LogFile, "log-file", o.LogFile, "Also write logs to this rotated file. Empty disables.")
	fs.StringVar(&o.TrafficLog, "traffic-log", o.TrafficLog, "Write one JSON line per session to this rotated file. Empty disables.")
	fs.IntVar(&o.LogMaxSizeMB, "log-max-size-mb", o.LogMaxSizeMB, "Rotate log files after this many megabytes")
	fs.IntVar(&o.LogMaxBackups, "log-max-backups", o.LogMaxBackups, "Number of rotated log files to keep")
	fs.IntVar(&o.LogMaxAgeDays, "log-max-age-days", o.LogMaxAgeDays, "Days to keep rotated log files")
	fs.BoolVar(&o.LogCompress, "log-compress", o.LogCompress, "Gzip rotated log files")
	fs.StringVar(&o.SessionIDMode, "session-id-mode", o.SessionIDMode, "Session identifier generator (uuid or cuid)")
	fs.DurationVar(&o.UsageReportInterval, "usage-report-interval", o.UsageReportInterval, "Log a per-user usage summary at this interval. 0 disables.")

	fs.BoolVar(&o.TracingEnabled, "tracing", o.TracingEnabled, "Enable OpenTelemetry tracing of sessions")
	fs.StringVar(&o.TracingExporter, "tracing-exporter", o.TracingExporter, "Tracing exporter (stdout, otlp-grpc, otlp-http)")
	fs.StringVar(&o.TracingEndpoint, "tracing-endpoint", o.TracingEndpoint, "OTLP collector endpoint (host:port)")
	fs.BoolVar(&o.TracingInsecure, "tracing-insecure", o.TracingInsecure, "Disable TLS to the OTLP collector")
}

// KeepAlive parses TCPKeepAlive.
func (o *Options) KeepAlive() (net.KeepAliveConfig, error) {
	ka, err := ParseTCPKeepAlive(o.TCPKeepAlive)
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}
	return ka, nil
}

// Validate checks the options that are not validated by their consumers.
func (o *Options) Validate() error {
	if o.HTTPListen == "" {
		return errors.New("--http-listen must not be empty")
	}
	if o.SOCKSListen == "" {
		return errors.New("--socks-listen must not be empty")
	}
	if o.UpstreamsFile == "" {
		return errors.New("--upstreams must not be empty")
	}
	if o.NegotiationTimeout < 0 || o.DialTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch strings.ToLower(o.SessionIDMode) {
	case "", "uuid", "cuid":
	default:
		return fmt.Errorf("unsupported session id mode %q (use uuid or cuid)", o.SessionIDMode)
	}
	if _, err := o.KeepAlive(); err != nil {
		return err
	}
	return nil
}
