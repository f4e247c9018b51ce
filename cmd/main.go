// cppjudge server: the interactive C++ debugger service and the batch
// checker, behind one HTTP listener.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cppjudge/internal/catalog"
	"cppjudge/internal/checker"
	"cppjudge/internal/compiler"
	"cppjudge/internal/config"
	"cppjudge/internal/debugger"
	"cppjudge/internal/events"
	"cppjudge/internal/httpapi"
	"cppjudge/internal/logging"
	"cppjudge/internal/metrics"
	"cppjudge/internal/registry"
	"cppjudge/internal/resultstore"
	"cppjudge/internal/sandbox"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			logging.S().Info("no .env file found, using environment variables")
		}
	}

	logging.Init()
	defer logging.Sync()

	cfg := config.Load()
	config.MustValidateSecrets(cfg, func(msg string) {
		logging.L().Fatal(msg)
	})

	for _, dir := range []string{cfg.ReceivedDir, cfg.DebugDir, cfg.PrintersDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.L().Fatal("create data directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	comp := compiler.New(cfg.CompilationTimeout, cfg.MaxCompilationErrorLines)

	boxCfg := sandbox.DefaultConfig()
	boxCfg.PrintersDir = cfg.PrintersDir
	boxCfg.MemoryLimitMB = cfg.DebuggerMemoryLimitMB
	boxCfg.CPULimit = cfg.DebuggerCPULimit
	box, err := sandbox.New(boxCfg, cfg.DebugDir)
	if err != nil {
		logging.L().Fatal("init sandbox", zap.Error(err))
	}

	store, err := catalog.Open(cfg.DatabaseURL)
	if err != nil {
		logging.L().Fatal("open problem catalog", zap.Error(err))
	}

	var results resultstore.Store
	if cfg.RedisURL != "" {
		redisStore, err := resultstore.NewRedis(cfg.RedisURL, cfg.SubmissionTTL)
		if err != nil {
			logging.L().Fatal("connect result store redis", zap.Error(err))
		}
		results = redisStore
		logging.L().Info("result store: redis")
	} else {
		mem := resultstore.NewMemory(cfg.SubmissionTTL)
		mem.StartSweeper(time.Minute)
		results = mem
		logging.L().Info("result store: in-memory")
	}
	defer results.Close()

	reg := registry.New(cfg.PingDeadline(), cfg.CleanInterval)
	reg.StartJanitor()
	defer reg.Close()

	checks := checker.New(comp, box, store, results, store)
	checks.Start()
	defer checks.Close()

	m := metrics.Init(
		func() float64 { return float64(checks.QueueDepth()) },
		func() float64 { return float64(reg.Len()) },
	)

	minter := registry.NewMinter(cfg.SecretKey, 0)
	factory := func(sessionID string) *debugger.Adapter {
		m.SessionsStartedTotal.Inc()
		return debugger.New(debugger.Options{
			Token:         sessionID,
			DebugDir:      cfg.DebugDir,
			ExpectTimeout: cfg.ExpectTimeout,
			Compiler:      comp,
			Sandbox:       box,
		})
	}
	debugEvents := events.NewHandler(reg, minter, factory)

	server := httpapi.NewServer(checks, store, results, debugEvents, m, cfg.ReceivedDir)

	go func() {
		addr := cfg.IP + ":" + cfg.Port
		logging.L().Info("listening", zap.String("addr", addr))
		if err := server.Run(addr); err != nil {
			logging.L().Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.L().Info("shutting down")
}
