package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			UnionFSFolder: "/mnt/local/.unionfs",
			CloudFolder:   "/mnt/cloud",
			RemoteFolder:  "google:",
			LocalFolder:   "/mnt/local/Media",
			LocalRemote:   "google:/Media",
		},
		WriteBack: WriteBackConfig{
			Enabled:                 false,
			LocalFolderSizeGB:       250,
			CheckIntervalMinutes:    60,
			CooldownIntervalMinutes: 25 * 60,
			PruneSettleDelay:        Duration(5 * time.Second),
			Prune: []PruneRoot{
				{Path: "/mnt/local/Media/Movies", MinDepth: 1},
				{Path: "/mnt/local/Media/TV", MinDepth: 1},
			},
		},
		Probe: ProbeConfig{
			DUBinary:     "du",
			LsofBinary:   "lsof",
			DUExcludes:   []string{},
			LsofExcludes: []string{".partial~"},
		},
		Rclone: RcloneConfig{
			Binary:    "rclone",
			Transfers: 8,
			Checkers:  16,
			Excludes: []string{
				"**partial~",
				"**_HIDDEN~",
				".unionfs/**",
				".unionfs-fuse/**",
			},
			RateLimitPattern: `(?i)(rateLimitExceeded|User rate limit exceeded)`,
		},
		Remote: RemoteConfig{
			Backend: "rclone",
		},
		Reconciler: ReconcilerConfig{
			WatchEnabled: true,
		},
		ConfigWatch: ConfigWatchConfig{
			Enabled:      true,
			Mode:         "poll",
			PollInterval: Duration(time.Minute),
		},
		Notify: NotifyConfig{
			Timeout: Duration(10 * time.Second),
			Pushover: PushoverConfig{
				Endpoint: "https://api.pushover.net/1/messages.json",
			},
			NATS: NATSNotifyConfig{
				SubjectPrefix: "unionfs.events",
				NATSConfig: NATSConfig{
					URL:            "nats://localhost:4222",
					ConnectionName: "unionfs-cleaner",
					MaxReconnects:  -1,
					ReconnectWait:  Duration(2 * time.Second),
				},
			},
		},
		Ledger: LedgerConfig{
			Path: "ledger.db",
		},
		DryRun: true,
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
			NATSResponder: NATSResponderConfig{
				Subject: "unionfs.status",
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  "127.0.0.1:9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        "127.0.0.1:8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
