package coremain

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pmkol/mosproxy/mlog"
)

// newSvcConfig returns the service config. args are appended to the
// "start --as-service" command line of the installed service.
func newSvcConfig(args []string) *service.Config {
	return &service.Config{
		Name:        "mosproxy",
		DisplayName: "mosproxy",
		Description: "A TTL caching reverse proxy.",
		Arguments:   append([]string{"start", "--as-service"}, args...),
	}
}

// serverService runs StartServer under a service manager.
type serverService struct {
	f    *serverFlags
	args []string

	m           sync.Mutex
	p           *Proxy
	stopPending bool
}

func (ss *serverService) Start(s service.Service) error {
	go func() {
		err := StartServer(ss.f, ss.args, ss.setProxy)
		if err != nil {
			mlog.L().Error("server exited", zap.Error(err))
			os.Exit(1)
		}
		os.Exit(0)
	}()
	return nil
}

// setProxy is called once the proxy is up. A Stop that came earlier
// is applied now.
func (ss *serverService) setProxy(p *Proxy) {
	ss.m.Lock()
	ss.p = p
	stop := ss.stopPending
	ss.m.Unlock()
	if stop {
		// Close blocks until Serve returns, Serve is not running yet.
		go p.Close()
	}
}

func (ss *serverService) Stop(s service.Service) error {
	ss.m.Lock()
	p := ss.p
	if p == nil {
		ss.stopPending = true
	}
	ss.m.Unlock()
	if p != nil {
		p.Close()
	}
	return nil
}

func newSvcInstallCmd() *cobra.Command {
	var dir, cfg string
	c := &cobra.Command{
		Use:   "install [origin] [port] [-d working_dir] [-c config_file]",
		Short: "Install mosproxy as a system service.",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(dir) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get working dir, %w", err)
				}
				dir = wd
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("failed to resolve working dir, %w", err)
			}

			svcArgs := []string{"-d", absDir}
			if len(cfg) > 0 {
				svcArgs = append(svcArgs, "-c", cfg)
			}
			svcArgs = append(svcArgs, args...)

			s, err := service.New(&serverService{}, newSvcConfig(svcArgs))
			if err != nil {
				return fmt.Errorf("failed to init service, %w", err)
			}
			return s.Install()
		},
		SilenceUsage: true,
	}
	c.Flags().StringVarP(&dir, "dir", "d", "", "working dir of the service, default is the current dir")
	c.Flags().StringVarP(&cfg, "config", "c", "", "config file")
	return c
}

func newSvcControlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service.New(&serverService{}, newSvcConfig(nil))
			if err != nil {
				return fmt.Errorf("failed to init service, %w", err)
			}
			return service.Control(s, action)
		},
		SilenceUsage: true,
	}
}

func newSvcUninstallCmd() *cobra.Command {
	return newSvcControlCmd("uninstall", "Uninstall mosproxy from system service.")
}

func newSvcStartCmd() *cobra.Command {
	return newSvcControlCmd("start", "Start mosproxy system service.")
}

func newSvcStopCmd() *cobra.Command {
	return newSvcControlCmd("stop", "Stop mosproxy system service.")
}

func newSvcRestartCmd() *cobra.Command {
	return newSvcControlCmd("restart", "Restart mosproxy system service.")
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Status of mosproxy system service.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service.New(&serverService{}, newSvcConfig(nil))
			if err != nil {
				return fmt.Errorf("failed to init service, %w", err)
			}
			st, err := s.Status()
			if err != nil {
				return err
			}
			var out string
			switch st {
			case service.StatusRunning:
				out = "running"
			case service.StatusStopped:
				out = "stopped"
			default:
				out = "unknown"
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
		SilenceUsage: true,
	}
}
