package server

import "time"

type RedisConfig struct {
	Addr     string        `usage:"If set, connected players are mirrored into a Redis hash at this [host:port]"`
	Password string        `usage:"Password for the Redis presence mirror"`
	DB       int           `default:"0" usage:"Redis database number for the presence mirror"`
	Key      string        `default:"mc-seat-proxy:players" usage:"Name of the Redis hash holding connected players"`
	TTL      time.Duration `default:"24h" usage:"Expiry of the Redis hash, refreshed at half this interval and whenever a player joins"`
}

type NgrokConfig struct {
	Token      string `usage:"If set, an ngrok tunnel will be established. It is HIGHLY recommended to pass as an environment variable."`
	RemoteAddr string `usage:"If set, the TCP address to request for this edge"`
}

type Config struct {
	Bind    string `usage:"The [host:port] bound to listen for Minecraft client connections. Defaults to the proxy config file's bind or :25565"`
	Backend string `usage:"The [host:port] of the Minecraft server all connections are relayed to. Defaults to the proxy config file's proxy_to"`

	ProxyConfigPath  string `usage:"Path to the JSON proxy config file providing bind, proxy_to and api bind addresses"`
	ProxyConfigWatch bool   `usage:"Watch the proxy config file and apply backend changes to new connections"`

	PlayerApiUrl string        `usage:"Base URL of the player API providing sit_out, fill_in and join_all"`
	StatsApiUrl  string        `usage:"Base URL of the stats API that receives connection events. Disabled if empty"`
	RosterApiUrl string        `usage:"Base URL of the access control API providing mode and players"`
	RosterFile   string        `usage:"Path to a roster file, JSON with mode and players or plain text listing the mode then players, used instead of the access control API"`
	ApiAuthKey   string        `usage:"Value sent in the authorization header to the player, stats and access control APIs. It is HIGHLY recommended to pass as an environment variable."`
	ApiTimeout   time.Duration `default:"10s" usage:"Timeout of each call to the player, stats and access control APIs"`

	ResolveRosterUuids bool `usage:"Resolve roster entries that are UUIDs to usernames through the Mojang session server"`

	SeatSwapDelay      time.Duration `default:"3s" usage:"Wait after a player's seat was given up before their login continues"`
	BackendDialTimeout time.Duration `default:"10s" usage:"Timeout for connecting to the backend server"`
	LoginTimeout       time.Duration `default:"0s" usage:"If non-zero, connections that have not completed the access decision within this time are closed"`
	ShutdownTimeout    time.Duration `default:"30s" usage:"Time given to active connections to finish when stopping"`

	ConnectionRateLimit int `default:"1" usage:"Max number of connections to allow per second"`
	MaxConnections      int `default:"0" usage:"Max number of concurrent connections, zero for no limit"`

	ApiBinding           string `usage:"The [host:port] bound for servicing admin API requests. Defaults to the proxy config file's api bind"`
	CpuProfile           string `usage:"Enables CPU profiling and writes to given path"`
	MetricsBackend       string `default:"discard" usage:"Backend to use for metrics exposure/publishing: discard,expvar,influxdb,prometheus"`
	MetricsBackendConfig MetricsBackendConfig

	UseProxyProtocol     bool     `default:"false" usage:"Send PROXY protocol to the backend server"`
	ReceiveProxyProtocol bool     `default:"false" usage:"Receive PROXY protocol from load balancers, by default trusts every proxy header that it receives, combine with -trusted-proxies to specify a list of trusted proxies"`
	TrustedProxies       []string `usage:"Comma delimited list of CIDR notation IP blocks to trust when receiving PROXY protocol"`

	ClientsToAllow []string `usage:"Zero or more client IP addresses or CIDRs to allow. Takes precedence over deny."`
	ClientsToDeny  []string `usage:"Zero or more client IP addresses or CIDRs to deny. Ignored if any configured to allow"`

	Ngrok NgrokConfig
	Redis RedisConfig
}
