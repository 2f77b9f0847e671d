package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/codeisall/charge-broker/internal/app/bootstrap"
	cfgpkg "github.com/codeisall/charge-broker/internal/config"
	"github.com/codeisall/charge-broker/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（缺省按 configs/example.yaml 查找）")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动
	if err := bootstrap.Run(cfg, zap.L()); err != nil {
		zap.L().Error("startup failed", zap.Error(err))
		os.Exit(1)
	}
}
