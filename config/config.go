package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port     int    `yaml:"port"`      // HTTP服务监听端口
		LogFile  string `yaml:"log_file"`  // 日志文件路径，为空时输出到stdout
		LogLevel string `yaml:"log_level"` // 日志级别 (DEBUG/INFO/WARN/ERROR)
	} `yaml:"server"`

	RateLimit struct {
		WindowSeconds  int  `yaml:"window_seconds"`  // 限流窗口大小（秒）
		WindowLimit    int  `yaml:"window_limit"`    // 每窗口允许的请求数
		SweepSeconds   int  `yaml:"sweep_seconds"`   // 过期窗口清理间隔（秒）
		RedisEnabled   bool `yaml:"redis_enabled"`   // 是否启用Redis分布式限流
		RedisWindowCap int  `yaml:"redis_window_cap"` // Redis窗口的全局请求上限
	} `yaml:"rate_limit"`

	Capture struct {
		MaxConcurrent    int `yaml:"max_concurrent"`     // 最大并发截图数
		QueueTimeoutMs   int `yaml:"queue_timeout_ms"`   // 排队等待超时（毫秒）
		NavigateTimeoutS int `yaml:"navigate_timeout_s"` // 页面导航超时（秒）
		MaxHeight        int `yaml:"max_height"`         // 全页截图最大高度（像素）
		MaxOutputBytes   int `yaml:"max_output_bytes"`   // 输出图片最大字节数
	} `yaml:"capture"`

	Browser struct {
		ChromePath     string `yaml:"chrome_path"`     // Chrome浏览器路径，为空时自动查找
		MaxScreenshots int64  `yaml:"max_screenshots"` // 单实例最大截图数，超过后重启
		MaxAgeMinutes  int    `yaml:"max_age_minutes"` // 单实例最大存活时间（分钟）
	} `yaml:"browser"`

	Redis struct {
		Host     string `yaml:"host"`     // Redis服务器地址
		Port     int    `yaml:"port"`     // Redis服务器端口
		Password string `yaml:"password"` // Redis密码
		DB       int    `yaml:"db"`       // 数据库编号
	} `yaml:"redis"`

	Mongo struct {
		Enabled    bool   `yaml:"enabled"`    // 是否启用MongoDB UA池
		URI        string `yaml:"uri"`        // MongoDB连接URI
		Database   string `yaml:"database"`   // 数据库名称
		Collection string `yaml:"collection"` // UA集合名称
	} `yaml:"mongo"`
}

var GlobalConfig Config

func LoadConfig() error {
	data, err := os.ReadFile("config/config.yaml")
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, &GlobalConfig); err != nil {
		return err
	}

	applyDefaults(&GlobalConfig)
	return nil
}

// applyDefaults 为未配置的字段填充默认值
// 所有数值边界集中在这里，避免散落在各个组件中
func applyDefaults(c *Config) {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "INFO"
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.WindowLimit == 0 {
		c.RateLimit.WindowLimit = 5
	}
	if c.RateLimit.SweepSeconds == 0 {
		c.RateLimit.SweepSeconds = 60
	}
	if c.RateLimit.RedisWindowCap == 0 {
		c.RateLimit.RedisWindowCap = 100
	}
	if c.Capture.MaxConcurrent == 0 {
		c.Capture.MaxConcurrent = 5
	}
	if c.Capture.QueueTimeoutMs == 0 {
		c.Capture.QueueTimeoutMs = 10000
	}
	if c.Capture.NavigateTimeoutS == 0 {
		c.Capture.NavigateTimeoutS = 30
	}
	if c.Capture.MaxHeight == 0 {
		c.Capture.MaxHeight = 15000
	}
	if c.Capture.MaxOutputBytes == 0 {
		c.Capture.MaxOutputBytes = 50 * 1024 * 1024
	}
	if c.Browser.MaxScreenshots == 0 {
		c.Browser.MaxScreenshots = 100
	}
	if c.Browser.MaxAgeMinutes == 0 {
		c.Browser.MaxAgeMinutes = 60
	}
}
