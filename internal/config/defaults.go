package config

const (
	defaultDataDir                = "~/.local/share/capstan"
	defaultWorkDir                = "~/.local/share/capstan/work"
	defaultLogDir                 = "~/.local/share/capstan/logs"
	defaultSpoolDir               = "~/.local/share/capstan/spool"
	defaultManifestPath           = "~/.config/capstan/releases.yaml"
	defaultCredentialsPath        = "~/.config/capstan/secrets.age"
	defaultAPIBind                = "127.0.0.1:7718"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 60
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultQueuePollInterval      = 5
	defaultErrorRetryInterval     = 10
	defaultSpoolScanInterval      = 30
	defaultWorkspaceRetentionDays = 14
	defaultRunnerPollInterval     = 10
	defaultRunnerTimeout          = 5400
	defaultAttestorPollInterval   = 5
	defaultAttestorTimeout        = 900
	defaultIndexTimeout           = 300
	defaultSignerTimeout          = 120
	defaultForgeTimeout           = 300
	defaultWebhookReplayWindow    = 3600
	defaultNotifyRequestTimeout   = 10
	defaultNotifyDedupWindow      = 600
	defaultDistCacheMaxGiB        = 20
	defaultEvidenceCompressionLvl = 3
	defaultForgeBaseURL           = "https://api.github.com"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
			SpoolDir: defaultSpoolDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Webhook: Webhook{
			ReplayWindowSeconds: defaultWebhookReplayWindow,
		},
		Manifest: Manifest{
			Path: defaultManifestPath,
		},
		Runner: Runner{
			PollIntervalSeconds: defaultRunnerPollInterval,
			TimeoutSeconds:      defaultRunnerTimeout,
		},
		Attestor: Attestor{
			PollIntervalSeconds: defaultAttestorPollInterval,
			TimeoutSeconds:      defaultAttestorTimeout,
		},
		Index: Index{
			TimeoutSeconds: defaultIndexTimeout,
		},
		Signer: Signer{
			TimeoutSeconds: defaultSignerTimeout,
		},
		Forge: Forge{
			BaseURL:        defaultForgeBaseURL,
			TimeoutSeconds: defaultForgeTimeout,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			Requested:          true,
			Resolved:           true,
			Published:          true,
			Review:             true,
			Errors:             true,
			DedupWindowSeconds: defaultNotifyDedupWindow,
		},
		DistCache: DistCache{
			Enabled: true,
			Dir:     defaultDistCacheDir(),
			MaxGiB:  defaultDistCacheMaxGiB,
		},
		Credentials: Credentials{
			Path: defaultCredentialsPath,
		},
		Workflow: Workflow{
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			SpoolScanInterval:   defaultSpoolScanInterval,
			WorkspaceRetention:  defaultWorkspaceRetentionDays,
			EvidenceCompression: defaultEvidenceCompressionLvl,
		},
		Logging: Logging{
			Level:         defaultLogLevel,
			Format:        defaultLogFormat,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
