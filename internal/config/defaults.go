package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		API: APIConfig{
			BaseURL:        "http://localhost:8000/api/v1",
			TimeoutSeconds: 30,
		},
		Realtime: RealtimeConfig{
			URL:                 "ws://127.0.0.1:8001/ws/lead-notifications/",
			OpenAckTimeoutMs:    5000,
			ReconnectDelayMs:    5000,
			PingIntervalSeconds: 0,
		},
		Chat: ChatConfig{
			PageSize:      50,
			PreviewLength: 40,
		},
		Store: StoreConfig{
			Backend:  "sqlite",
			DBPath:   "~/.visadesk/visadesk.db",
			RedisKey: "visadesk:credential",
		},
		Server: ServerConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8090,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
