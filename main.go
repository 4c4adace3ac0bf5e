package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fansqz/debug-playground/config"
	"github.com/fansqz/debug-playground/constants"
	. "github.com/fansqz/debug-playground/debugger"
	"github.com/fansqz/debug-playground/debugger/dap_debugger"
	"github.com/fansqz/debug-playground/debugger/yaegi_debugger"
	e "github.com/fansqz/debug-playground/error"
	"github.com/fansqz/debug-playground/metrics"
	"github.com/fansqz/debug-playground/utils/gosync"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// 定义版本号
const Version = "1.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "debug-playground",
		Short:         "Debug session coordinator for an in-browser code playground",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newDAPCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var cfgPath string
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept front end connections and coordinate debug sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Addr = ":" + port
			}
			//启动日志
			if err = SetupLogger(cfg.Log); err != nil {
				return err
			}
			defer CloseLogger()
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Path to config file")
	cmd.Flags().StringVar(&port, "port", "", "TCP port to listen on, overrides server.addr")
	return cmd
}

func newDAPCmd() *cobra.Command {
	var cfgPath string
	var address string
	cmd := &cobra.Command{
		Use:   "dap",
		Short: "Serve the embedded go interpreter as a debug adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Interpreter.DAP.Address = address
			}
			if err = SetupLogger(cfg.Log); err != nil {
				return err
			}
			defer CloseLogger()

			listener, err := net.Listen("tcp", cfg.Interpreter.DAP.Address)
			if err != nil {
				return err
			}
			logrus.Infof("[DAPServer] started listening at: %s", listener.Addr())
			go func() {
				<-cmd.Context().Done()
				_ = listener.Close()
			}()
			return serveDAP(cmd.Context(), listener, cfg.RunTimeout())
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Path to config file")
	cmd.Flags().StringVar(&address, "address", "", "Address to listen on, overrides interpreter.dap.address")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], config.DefaultConfig(), force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return err
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version number",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
			return err
		},
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	return config.Load(path)
}

// serve 监听前端连接，每个连接创建一个解释器和一个调试会话
func serve(ctx context.Context, cfg config.Config) error {
	// 提前检查解释器的配置
	if _, err := newInterpreter(cfg); err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		startMetricsServer(ctx, cfg.Metrics.Addr)
	}

	// 监听端口
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	defer listener.Close()
	logrus.Infof("started listening at: %s, backend = %s", listener.Addr().String(), cfg.Interpreter.Backend)
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.Warnf("Connection failed: %v", err)
			continue
		}
		interpreter, err := newInterpreter(cfg)
		if err != nil {
			logrus.Errorf("create interpreter fail, err = %v", err)
			_ = conn.Close()
			continue
		}
		// Handle multiple client connections concurrently
		handler := NewDebuggerHandler(ctx, conn, interpreter, cfg)
		gosync.Go(ctx, handler.Serve)
	}
}

// newInterpreter 根据配置创建解释器
func newInterpreter(cfg config.Config) (Interpreter, error) {
	switch cfg.Interpreter.Backend {
	case constants.YaegiBackend:
		return yaegi_debugger.NewYaegiDebugger(cfg.RunTimeout()), nil
	case constants.DAPBackend:
		d, err := dap_debugger.NewDAPDebugger(dap_debugger.Options{
			Address:        cfg.Interpreter.DAP.Address,
			Language:       cfg.Interpreter.DAP.Language,
			RequestTimeout: cfg.RequestTimeout(),
			RunTimeout:     cfg.RunTimeout(),
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%s: %w", cfg.Interpreter.Backend, e.ErrBackendNotSupported)
	}
}

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	gosync.Go(ctx, func(ctx context.Context) {
		logrus.Infof("[Metrics] listening at %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("[Metrics] serve fail, err = %v", err)
		}
	})
	gosync.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
}
