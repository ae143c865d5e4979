package temporalx

import (
	"time"

	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	DialTimeout   time.Duration
	DialMaxWait   time.Duration
	AutoNamespace bool
	RetentionDays int
}

// Enabled reports whether runs are dispatched through Temporal.
func (c Config) Enabled() bool { return c.Address != "" }

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "storyforge"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "storyforge-generation"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		DialTimeout:   envutil.Seconds("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5*time.Second),
		DialMaxWait:   envutil.Seconds("TEMPORAL_DIAL_MAX_WAIT_SECONDS", time.Minute),
		AutoNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		RetentionDays: envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7),
	}
}

func (c Config) mtls() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
