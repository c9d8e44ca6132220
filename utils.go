package covenant

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btclog"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/snowzach/rotatefilehook"
	"github.com/vrecan/death/v3"
)

// EncodeToBytes 使用 gob 编码将任意数据转换为 []byte
func EncodeToBytes(data interface{}) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := gob.NewEncoder(&buffer)

	if err := encoder.Encode(data); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// DecodeFromBytes 使用 gob 解码将 []byte 转换为指定的数据结构
func DecodeFromBytes(data []byte, result interface{}) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))
	return decoder.Decode(result)
}

// CloseOnSignal 阻塞直到收到终止信号，关闭实例后退出程序
func CloseOnSignal(cc *CC) {
	// syscall.SIGINT ctr+c触发
	// syscall.SIGTERM 当前进程被kill
	d := death.NewDeath(syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	d.WaitForDeathWithFunc(func() {
		defer os.Exit(1)
		if err := cc.Close(); err != nil {
			logrus.Errorf("[CloseOnSignal] 关闭失败:\t%v", err)
		}
	})
}

const (
	logName = "console"
)

// SetLog 为每一个实例创建一个log文件，记录日志信息。dir 为空时只输出到终端。
func SetLog(dir, instanceId, level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}

	logrus.SetLevel(logLevel)
	logrus.SetOutput(colorable.NewColorableStdout())
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC822,
	})
	useScriptLogger(level)
	if dir == "" {
		return nil
	}

	filename := filepath.Join(dir, fmt.Sprintf("%s.log", logName))
	if instanceId != "" {
		filename = filepath.Join(dir, fmt.Sprintf("%s_%s.log", logName, instanceId))
	}
	// logrus 的回调钩子
	rotateFileHook, err := rotatefilehook.NewRotateFileHook(rotatefilehook.RotateFileConfig{
		Filename:   filename,
		MaxSize:    50, // 文件最大50M
		MaxBackups: 3,
		MaxAge:     28, // 存储28天
		Level:      logLevel,
		Formatter: &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		},
	})
	if err != nil {
		return fmt.Errorf("初始化文件回调钩子失败: %w", err)
	}
	logrus.AddHook(rotateFileHook)
	return nil
}

// useScriptLogger 让 btcd 脚本引擎的日志写到 logrus 的输出
func useScriptLogger(level string) {
	backend := btclog.NewBackend(logrus.StandardLogger().Out)
	logger := backend.Logger("TXSC")
	lvl, ok := btclog.LevelFromString(strings.ToLower(level))
	if !ok {
		lvl = btclog.LevelInfo
	}
	logger.SetLevel(lvl)
	txscript.UseLogger(logger)
}

// generateRandomString 生成一个指定长度的随机字符串
func generateRandomString(length int) (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var result strings.Builder
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		result.WriteByte(letters[num.Int64()])
	}
	return result.String(), nil
}
