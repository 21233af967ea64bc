package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"app-alfen-go/internal/pkg/api"
	"app-alfen-go/internal/pkg/config"
	"app-alfen-go/internal/pkg/controller"
	"app-alfen-go/internal/pkg/devicemanager"
	"app-alfen-go/internal/pkg/executor"
	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/metrics"
	"app-alfen-go/internal/pkg/mqtt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// AppService 是主应用服务
type AppService struct {
	appName    string
	version    string
	configPath string

	lc          logger.LoggingClient
	config      *config.AppConfig
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	pool        *executor.Pool
	dispatcher  *mqtt.Dispatcher
	manager     *devicemanager.Manager
	controllers []*controller.Controller
	apiServer   *api.Server

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewAppService 创建新的应用服务
func NewAppService(name string, version string) (AppServiceInterface, error) {
	if name == "" {
		return nil, errors.New("please specify service name")
	}
	if version == "" {
		return nil, errors.New("please specify service version")
	}

	return &AppService{
		appName: name,
		version: version,
	}, nil
}

// Initialize 使用配置初始化服务
func (s *AppService) Initialize(configPath string) error {
	s.configPath = configPath

	// 首先使用默认级别初始化记录器
	s.lc = logger.NewClient("INFO")
	s.lc.Info("Initializing service", "name", s.appName, "version", s.version)

	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		s.lc.Warn("Config file not found, using defaults", "path", configPath)
		cfg = config.DefaultConfig()
	}
	s.config = cfg

	if cfg.Writable.LogFile != "" {
		lc, err := logger.NewClientWithFile(cfg.Writable.LogLevel, cfg.Writable.LogFile)
		s.lc = lc
		if err != nil {
			s.lc.Warn("Failed to open log file", "error", err)
		}
	} else if err := s.lc.SetLogLevel(cfg.Writable.LogLevel); err != nil {
		s.lc.Warn("Failed to set log level", "error", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	// 指标
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if s.metrics, err = metrics.New(s.registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Modbus 请求的工作池，每台设备一个 worker 并额外保留一个
	s.pool, err = executor.NewPool(len(cfg.Devices)+1, 0, 0, s.lc)
	if err != nil {
		return err
	}

	var publisher devicemanager.Publisher
	if cfg.Mqtt.Enabled {
		s.dispatcher, err = mqtt.NewDispatcher(mqtt.Config{
			Broker:            cfg.Mqtt.Broker,
			ClientID:          cfg.Mqtt.ClientID,
			Username:          cfg.Mqtt.Username,
			Password:          cfg.Mqtt.Password,
			QoS:               byte(cfg.Mqtt.QoS),
			KeepAlive:         cfg.Mqtt.KeepAlive,
			ReconnectDelay:    cfg.Mqtt.GetReconnectDelay(),
			InitialRetryDelay: cfg.Mqtt.GetInitialRetryDelay(),
		}, s.lc, s.metrics)
		if err != nil {
			return fmt.Errorf("failed to create MQTT dispatcher: %w", err)
		}
		publisher = s.dispatcher
	} else {
		s.lc.Warn("MQTT is disabled, telemetry will not be published")
	}

	s.manager = devicemanager.NewManager(cfg, publisher, s.pool, s.lc, s.metrics)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	var conn api.ConnectionState
	if s.dispatcher != nil {
		conn = s.dispatcher
	}
	s.apiServer = api.NewServer(api.Config{
		Address:     cfg.Service.Address(),
		MetricsPath: metricsPath,
		Version:     s.version,
	}, s.manager, conn, s.registry, s.lc)

	s.lc.Info("Service initialized successfully")
	return nil
}

// Start 按依赖顺序启动各组件
func (s *AppService) Start() error {
	if s.config == nil {
		return errors.New("service not initialized")
	}
	s.lc.Info("Starting service", "name", s.appName)

	s.pool.Start(s.ctx)

	// 先连接 MQTT，发现消息才能发布出去
	if s.dispatcher != nil {
		s.dispatcher.Start()
	}

	if err := s.manager.Start(s.ctx); err != nil {
		return fmt.Errorf("device manager start failed: %w", err)
	}

	if s.dispatcher != nil {
		if err := s.manager.RegisterHandlers(s.dispatcher); err != nil {
			return fmt.Errorf("failed to register evcc handlers: %w", err)
		}
		if s.config.Controller.Enabled {
			if err := s.startControllers(); err != nil {
				return err
			}
		}
	}

	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("HTTP server start failed: %w", err)
	}

	s.lc.Info("Service started successfully")
	return nil
}

// startControllers 为每台设备的每个插座启动一个控制器
func (s *AppService) startControllers() error {
	cc := s.config.Controller
	for _, d := range s.manager.Devices() {
		for socket := 1; socket <= d.Store().SocketCount(); socket++ {
			c, err := controller.New(controller.Config{
				Device:             d.Name(),
				Socket:             socket,
				BaseTopic:          s.config.Mqtt.BaseTopic,
				PowerConsumedTopic: cc.PowerConsumedTopic,
				PowerProducedTopic: cc.PowerProducedTopic,
				SolarTopic:         cc.SolarTopic,
				SolarField:         cc.SolarField,
				Interval:           cc.GetInterval(),
			}, d, s.lc, s.metrics)
			if err != nil {
				return fmt.Errorf("failed to create controller for %s/%d: %w", d.Name(), socket, err)
			}
			if err := c.Register(s.dispatcher); err != nil {
				return fmt.Errorf("failed to register controller for %s/%d: %w", d.Name(), socket, err)
			}
			s.controllers = append(s.controllers, c)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				c.Run(s.ctx)
			}()
		}
	}
	return nil
}

// Run 运行服务直到收到关闭信号
func (s *AppService) Run() error {
	if err := s.Start(); err != nil {
		_ = s.Stop()
		return err
	}
	s.waitForShutdown()
	return nil
}

// waitForShutdown 等待关闭信号
func (s *AppService) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.lc.Info("Received signal", "signal", sig.String())
	case <-s.ctx.Done():
	}
	_ = s.Stop()
}

// Stop 停止服务，可重复调用
func (s *AppService) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		if s.lc == nil {
			return
		}
		s.lc.Info("Stopping service", "name", s.appName)

		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		if s.apiServer != nil {
			if err := s.apiServer.Stop(context.Background()); err != nil {
				errs = append(errs, err)
			}
		}
		if s.pool != nil {
			s.pool.Stop()
		}
		if s.manager != nil {
			if err := s.manager.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.dispatcher != nil {
			s.dispatcher.Stop()
		}

		s.lc.Info("Service stopped successfully")
		if err := s.lc.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// GetLoggingClient 返回日志客户端
func (s *AppService) GetLoggingClient() logger.LoggingClient {
	return s.lc
}

// GetDeviceManager 返回设备管理器
func (s *AppService) GetDeviceManager() *devicemanager.Manager {
	return s.manager
}

// GetDispatcher 返回 MQTT 调度器
func (s *AppService) GetDispatcher() *mqtt.Dispatcher {
	return s.dispatcher
}

// GetAppConfig 返回应用配置
func (s *AppService) GetAppConfig() *config.AppConfig {
	return s.config
}

// GetContext 返回服务上下文
func (s *AppService) GetContext() context.Context {
	return s.ctx
}
