package settings

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Name          string `mapstructure:"name"`
	Bind          string `mapstructure:"bind"`
	Port          int    `mapstructure:"port"`
	MaxClients    int    `mapstructure:"maxClients"` // 0 表示不限制
	*DBConfig     `mapstructure:"db"`
	*PubSubConfig `mapstructure:"pubsub"`
	*ClientConfig `mapstructure:"client"`
	*LogConfig    `mapstructure:"log"`
}

// Addr 监听地址 host:port
func (c *AppConfig) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// SetAddr 用 host:port 覆盖 bind 与 port
func (c *AppConfig) SetAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid listen port %q", port)
	}
	c.Bind = host
	c.Port = p
	return nil
}

type DBConfig struct {
	IndexType IndexerType `mapstructure:"indexType"` // 索引类型
}

type IndexerType = int8

const (
	BTree    IndexerType = iota + 1 // BTree 索引
	ART                             // ART Adpative Radix Tree 自适应基数树索引
	Skiplist                        // 跳表索引
	HashMap                         // 内置 map，无序
)

// PubSubConfig 发布订阅配置项
type PubSubConfig struct {
	MailboxSize int `mapstructure:"mailboxSize"` // 每个订阅连接可积压的消息数，写满后断开该连接
}

// ClientConfig 客户端连接配置项
type ClientConfig struct {
	ReadBufferSize int `mapstructure:"readBufferSize"` // 读缓冲区初始大小
	MaxQueryBuffer int `mapstructure:"maxQueryBuffer"` // 读缓冲区上限，超过即断开
}

// LogConfig  stores config for logger
type LogConfig struct {
	Path       string `mapstructure:"path"`
	Name       string `mapstructure:"name"`
	Ext        string `mapstructure:"ext"`
	TimeFormat string `mapstructure:"timeFormat"`
	Level      string `mapstructure:"level"`
	Stdout     bool   `mapstructure:"stdout"`     // 仅输出到标准输出，不写文件
	MaxSize    int    `mapstructure:"maxSize"`    // 单个日志文件大小，单位 MB
	MaxBackups int    `mapstructure:"maxBackups"` // 保留的旧日志文件个数
	MaxAge     int    `mapstructure:"maxAge"`     // 旧日志保留天数
	Compress   bool   `mapstructure:"compress"`   // 是否压缩旧日志
}

var Conf = defaultConfig()

var (
	hooksMu sync.Mutex
	hooks   []func(*AppConfig)
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "hermes")
	v.SetDefault("bind", "127.0.0.1")
	v.SetDefault("port", 6379)
	v.SetDefault("maxClients", 10000)
	v.SetDefault("db.indexType", HashMap)
	v.SetDefault("pubsub.mailboxSize", 1024)
	v.SetDefault("client.readBufferSize", 4096)
	v.SetDefault("client.maxQueryBuffer", 1<<30)
	v.SetDefault("log.path", "logs")
	v.SetDefault("log.name", "hermes")
	v.SetDefault("log.ext", "log")
	v.SetDefault("log.timeFormat", "2006-01-02")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.maxSize", 100)
	v.SetDefault("log.maxBackups", 7)
	v.SetDefault("log.maxAge", 30)
	v.SetDefault("log.compress", false)
}

func defaultConfig() *AppConfig {
	v := viper.New()
	setDefaults(v)
	conf := new(AppConfig)
	if err := v.Unmarshal(conf); err != nil {
		panic(err)
	}
	return conf
}

// BindFlags 注册命令行参数，flag 的优先级高于配置文件
func BindFlags(fs *pflag.FlagSet) error {
	fs.String("bind", "", "address to bind")
	fs.Int("port", 0, "port to listen on")
	fs.String("log-level", "", "log level: debug|info|warning|error")
	for key, flag := range map[string]string{"bind": "bind", "port": "port", "log.level": "log-level"} {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// OnChange 注册配置热更新后的回调
func OnChange(fn func(*AppConfig)) {
	hooksMu.Lock()
	hooks = append(hooks, fn)
	hooksMu.Unlock()
}

// Init 读取配置，filepath 为空时只使用默认值与命令行参数
func Init(filepath string) (err error) {
	setDefaults(viper.GetViper())
	if filepath != "" {
		viper.SetConfigFile(filepath)
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("viper.ReadInConfig() failed: %w", err)
		}
	}

	// 把读取到的配置信息反序列化到Conf变量中
	conf := new(AppConfig)
	if err = viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("viper.Unmarshal failed: %w", err)
	}
	Conf = conf

	if filepath == "" {
		return nil
	}

	// 监控配置文件变化
	viper.OnConfigChange(func(e fsnotify.Event) {
		conf := new(AppConfig)
		if err := viper.Unmarshal(conf); err != nil {
			return
		}
		Conf = conf
		hooksMu.Lock()
		fns := make([]func(*AppConfig), len(hooks))
		copy(fns, hooks)
		hooksMu.Unlock()
		for _, fn := range fns {
			fn(conf)
		}
	})
	viper.WatchConfig()
	return
}
