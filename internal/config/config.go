package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds the voxcall daemon configuration
type Config struct {
	// Identity
	LocalParty string // Identity calls are placed and received as

	// Call settings
	RingTimeout time.Duration // Inbound ring window before a call is missed
	STUNServer  string        // STUN URL for ICE gathering, empty disables

	// SIP settings (used when SIP transport is enabled)
	EnableSIP     bool
	SIPPort       int
	SIPBindAddr   string // Address to bind for listening
	AdvertiseAddr string // Address to advertise in SIP headers

	// Observability
	LogLevel    string
	MetricsAddr string // Listen address for the /metrics endpoint, empty disables
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.LocalParty, "user", "voxcall", "Local party identity")
	flag.DurationVar(&cfg.RingTimeout, "ring-timeout", 30*time.Second, "Inbound ring window before the call is marked missed")
	flag.StringVar(&cfg.STUNServer, "stun", "stun:stun.l.google.com:19302", "STUN server URL for ICE gathering (empty to disable)")
	flag.BoolVar(&cfg.EnableSIP, "sip", false, "Enable the SIP telephony bridge instead of loopback")
	flag.IntVar(&cfg.SIPPort, "sip-port", 5060, "SIP listening port")
	flag.StringVar(&cfg.SIPBindAddr, "sip-bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "", "Listen address for Prometheus metrics (empty to disable)")

	flag.Parse()

	// Override with environment variables if set
	if user := os.Getenv("VOXCALL_USER"); user != "" {
		cfg.LocalParty = user
	}
	if timeout := os.Getenv("VOXCALL_RING_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			cfg.RingTimeout = d
		}
	}
	if stun := os.Getenv("VOXCALL_STUN"); stun != "" {
		cfg.STUNServer = stun
	}
	if port := os.Getenv("SIP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SIPPort = p
		}
	}
	if bind := os.Getenv("SIP_BIND"); bind != "" {
		cfg.SIPBindAddr = bind
	}
	if advertise := os.Getenv("ADVERTISE"); advertise != "" {
		cfg.AdvertiseAddr = advertise
	}
	if cfg.EnableSIP {
		// Validate and fall back to auto-detection if invalid
		if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
			cfg.AdvertiseAddr = getPrimaryInterfaceIP()
		}
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if metrics := os.Getenv("VOXCALL_METRICS"); metrics != "" {
		cfg.MetricsAddr = metrics
	}

	return cfg
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
