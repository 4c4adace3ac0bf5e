package main

import (
	"os"
	"path/filepath"

	"github.com/fansqz/debug-playground/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var logFile *os.File

// SetupLogger 配置logrus，cfg.Path为空时输出到标准错误
func SetupLogger(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if cfg.Path == "" {
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   term.IsTerminal(int(os.Stderr.Fd())),
		})
		return nil
	}

	// 检查文件是否存在
	_, err = os.Stat(cfg.Path)
	if os.IsNotExist(err) {
		// 文件不存在，创建目录和文件
		if err = os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return err
		}
		f, createErr := os.Create(cfg.Path)
		if createErr != nil {
			return createErr
		}
		_ = f.Close()
	} else if err != nil {
		return err
	}

	// 打开文件
	logFile, err = os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	logrus.SetOutput(logFile)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: true,
	})
	return nil
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
