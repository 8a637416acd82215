package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Aria2 struct {
		RPCURL      string
		Secret      string
		DownloadDir string
		BinPath     string
		ConfPath    string
		UnitPath    string
		LogPath     string
	}
	Storage struct {
		Enabled           bool
		Bucket            string
		KeyPrefix         string
		Region            string
		Endpoint          string
		AutoUpload        bool
		DeleteAfterUpload bool
	}
	Channel struct {
		Enabled           bool
		ID                string
		AutoUpload        bool
		DeleteAfterUpload bool
		SelfHostedAPI     bool
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret        string
		RegisterPassword string
		TokenTTLMinutes  int
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("ARIA2BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/aria2bot.db")
	v.SetDefault("aria2.rpcurl", "http://localhost:6800/jsonrpc")
	v.SetDefault("aria2.secret", "")
	v.SetDefault("aria2.downloaddir", "data/downloads")
	v.SetDefault("aria2.binpath", home+"/.local/bin/aria2c")
	v.SetDefault("aria2.confpath", home+"/.config/aria2/aria2.conf")
	v.SetDefault("aria2.unitpath", home+"/.config/systemd/user/aria2.service")
	v.SetDefault("aria2.logpath", home+"/.local/share/aria2/aria2.log")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "aria2bot")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.autoupload", false)
	v.SetDefault("storage.deleteafterupload", false)
	v.SetDefault("channel.enabled", false)
	v.SetDefault("channel.id", "")
	v.SetDefault("channel.autoupload", false)
	v.SetDefault("channel.deleteafterupload", false)
	v.SetDefault("channel.selfhostedapi", false)
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.registerpassword", "")
	v.SetDefault("auth.tokenttlminutes", 720)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
