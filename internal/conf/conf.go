package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration for the ChainPulse service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Auth       *Auth
	Log        *Log
	Telemetry  *Telemetry
	Resilience *Resilience
	ColdStart  *ColdStart
	Upstream   *Upstream
}

// Server holds transport listener configuration.
type Server struct {
	Http *Server_HTTP
	Grpc *Server_GRPC
}

type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

type Server_GRPC struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
	Snapshot *Data_Snapshot
}

type Data_Database struct {
	Driver string
	Source string
}

type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Data_Snapshot configures the fallback snapshot store.
type Data_Snapshot struct {
	LruSize int32
	Ttl     *durationpb.Duration
	Encrypt bool
}

// Auth holds ops API credentials and the snapshot encryption key.
type Auth struct {
	Api        *Auth_API
	Encryption *Auth_Encryption
}

type Auth_API struct {
	Key string
}

type Auth_Encryption struct {
	Key string
}

// Log configures the Zap logging pipeline.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Telemetry configures the telemetry substrate and its remote sinks.
type Telemetry struct {
	Environment string
	Sink        *Telemetry_Sink
}

type Telemetry_Sink struct {
	Enabled       bool
	LogsUrl       string
	MetricsUrl    string
	ErrorsUrl     string
	AuthToken     string
	ProxyUrl      string
	Timeout       *durationpb.Duration
	FlushInterval *durationpb.Duration
	BatchSize     int32
}

// Resilience holds the default circuit breaker tuning, overridable per service.
type Resilience struct {
	FailureThreshold int32
	RecoveryTimeout  *durationpb.Duration
	MonitoringWindow *durationpb.Duration
	SuccessThreshold int32
	FallbackEnabled  bool
}

// ColdStart configures the three-phase bootstrap orchestration.
type ColdStart struct {
	Progressive       bool
	BatchSize         int32
	BatchInterval     *durationpb.Duration
	LoadTimeout       *durationpb.Duration
	SlowLoadThreshold *durationpb.Duration
	CacheWarming      *ColdStart_CacheWarming
}

type ColdStart_CacheWarming struct {
	Enabled           bool
	BackgroundRefresh bool
	WarmupServices    []string
	Delay             *durationpb.Duration
	Cron              string
}

// Upstream holds the endpoints of the dashboard's external services.
type Upstream struct {
	ProbeTimeout  *durationpb.Duration
	ProxyUrl      string
	MarketDataUrl string
	PortfolioUrl  string
	NftMarketUrl  string
	SentimentUrl  string
}
