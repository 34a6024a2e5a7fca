package coremain

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pmkol/mosproxy/constant"
	"github.com/pmkol/mosproxy/mlog"
)

type serverFlags struct {
	c         string
	dir       string
	cpu       int
	ttl       time.Duration
	asService bool
}

var rootCmd = &cobra.Command{
	Use:   "mosproxy",
	Short: "A caching reverse proxy.",
}

func init() {
	sf := new(serverFlags)
	startCmd := &cobra.Command{
		Use:   "start [origin] [port] [-c config_file] [-d working_dir]",
		Short: "Start mosproxy main program.",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sf.asService {
				ss := &serverService{f: sf, args: args}
				svc, err := service.New(ss, newSvcConfig(nil))
				if err != nil {
					return fmt.Errorf("failed to init service, %w", err)
				}
				return svc.Run()
			}
			return StartServer(sf, args, nil)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(startCmd)
	fs := startCmd.Flags()
	fs.StringVarP(&sf.c, "config", "c", "", "config file")
	fs.StringVarP(&sf.dir, "dir", "d", "", "working dir")
	fs.IntVar(&sf.cpu, "cpu", 0, "set runtime.GOMAXPROCS")
	fs.DurationVar(&sf.ttl, "ttl", 0, "cache ttl, overrides cache.ttl of the config")
	fs.BoolVar(&sf.asService, "as-service", false, "start as a service")
	fs.MarkHidden("as-service")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the default config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := yaml.Marshal(DefaultConfig())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), constant.Version)
		},
	})

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage mosproxy as a system service.",
	}
	serviceCmd.AddCommand(
		newSvcInstallCmd(),
		newSvcUninstallCmd(),
		newSvcStartCmd(),
		newSvcStopCmd(),
		newSvcRestartCmd(),
		newSvcStatusCmd(),
	)
	rootCmd.AddCommand(serviceCmd)
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

// StartServer loads the config and runs the proxy until it is closed.
// If started is not nil, it receives the running Proxy.
func StartServer(sf *serverFlags, args []string, started func(p *Proxy)) error {
	if sf.cpu > 0 {
		runtime.GOMAXPROCS(sf.cpu)
	}

	if len(sf.dir) > 0 {
		err := os.Chdir(sf.dir)
		if err != nil {
			return fmt.Errorf("failed to change the current working directory, %w", err)
		}
		mlog.L().Info("working directory changed", zap.String("path", sf.dir))
	}

	cfg, fileUsed, err := loadConfig(sf.c)
	if err != nil {
		return fmt.Errorf("fail to load config, %w", err)
	}
	if len(fileUsed) > 0 {
		mlog.L().Info("config loaded", zap.String("file", fileUsed))
	}
	applyFlags(cfg, sf, args)

	if err := RunProxy(cfg, started); err != nil {
		return fmt.Errorf("mosproxy exited, %w", err)
	}
	return nil
}

// applyFlags overrides cfg with command line values.
// args are the optional positional [origin] [port].
func applyFlags(cfg *Config, sf *serverFlags, args []string) {
	if len(args) > 0 {
		cfg.Origin = args[0]
	}
	if len(args) > 1 {
		cfg.Listen = net.JoinHostPort("localhost", args[1])
	}
	if sf.ttl != 0 {
		cfg.Cache.TTL = sf.ttl
	}
}

// loadConfig load a config from a file. If filePath is empty, it will
// automatically search a file which name start with "config" and fall
// back to DefaultConfig if there is none. Every key can also be set by
// a MOSPROXY_ prefixed env, e.g. MOSPROXY_CACHE_TTL=1m.
func loadConfig(filePath string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix("mosproxy")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if len(filePath) > 0 || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, v.ConfigFileUsed(), nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.production", d.Log.Production)
	v.SetDefault("origin", d.Origin)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.cleaner_interval", d.Cache.CleanerInterval)
	v.SetDefault("cache.shards", d.Cache.Shards)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)
	v.SetDefault("upstream.max_body_size", d.Upstream.MaxBodySize)
	v.SetDefault("upstream.http3", d.Upstream.HTTP3)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.health_path", d.Server.HealthPath)
	v.SetDefault("server.proxy_protocol", d.Server.ProxyProtocol)
	v.SetDefault("server.max_conns", d.Server.MaxConns)
	v.SetDefault("api.http", d.API.HTTP)
}
