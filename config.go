package goRealtime

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goRealtime/protocol"
)

// Config is the complete engine configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT        JWTConfig
	Connection ConnectionConfig
	Rooms      RoomsConfig
	Issuer     IssuerConfig
	Permission PermissionConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Security   SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls realtime token minting and verification.
type JWTConfig struct {
	TTL           time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
CONNECTION CONFIG
====================================
*/

// ConnectionConfig tunes the per-connection websocket pumps.
type ConnectionConfig struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration // must be less than PongWait
	MaxMessageSize  int64
	SendBuffer      int
	NearExpiryLead  time.Duration // token_near_expiry is pushed this long before expiry; 0 disables
	AuthTimeout     time.Duration // unauthenticated connections are closed after this; 0 disables
	IdentityTimeout time.Duration
}

/*
====================================
ROOMS CONFIG
====================================
*/

// RoomPolicy names the guard applied to join_room_management for a room.
type RoomPolicy string

const (
	// PolicyAuthenticated admits any authenticated principal.
	PolicyAuthenticated RoomPolicy = "authenticated"
	// PolicyTeacherOrAdmin admits teachers and admins.
	PolicyTeacherOrAdmin RoomPolicy = "teacher_or_admin"
	// PolicyAdmin admits admins.
	PolicyAdmin RoomPolicy = "admin"
	// PolicyStudent admits students.
	PolicyStudent RoomPolicy = "student"
	// PolicyDeny rejects every join.
	PolicyDeny RoomPolicy = "deny"
)

// Valid reports whether p is a known policy.
func (p RoomPolicy) Valid() bool {
	switch p {
	case PolicyAuthenticated, PolicyTeacherOrAdmin, PolicyAdmin, PolicyStudent, PolicyDeny:
		return true
	}
	return false
}

// Guard returns the role guard enforcing p. Unknown policies deny.
func (p RoomPolicy) Guard() Guard {
	switch p {
	case PolicyAuthenticated:
		return RequireAuthenticated()
	case PolicyTeacherOrAdmin:
		return RequireTeacherOrAdmin()
	case PolicyAdmin:
		return RequireAdmin()
	case PolicyStudent:
		return RequireStudent()
	default:
		return DenyAll()
	}
}

// RoomsConfig declares the rooms clients may join.
//
// Personal rooms (PersonalRoomPrefix + subject) are joined automatically on
// authentication; an explicit join of a personal room is admitted only for
// its owner or an admin.
type RoomsConfig struct {
	DefaultRoom        string
	PersonalRoomPrefix string
	Policies           map[string]RoomPolicy
	DefaultPolicy      RoomPolicy // applied to rooms missing from Policies
}

/*
====================================
ISSUER CONFIG
====================================
*/

// IssuerConfig controls the reference credential issuer (POST /renew).
// The issuer is active only when the engine has a Redis client.
type IssuerConfig struct {
	CookieName        string
	SessionPrefix     string
	SessionLifetime   time.Duration
	SlidingExpiration bool
	JitterEnabled     bool
	JitterRange       time.Duration
	MaxRenewals       int // per session and window; 0 disables throttling
	RenewWindow       time.Duration
	EnableIPThrottle  bool
}

// PermissionConfig controls the permission registry answering
// check_permissions.
type PermissionConfig struct {
	RootBitReserved bool // if true, the highest bit grants every permission
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment hardening switches.
type SecurityConfig struct {
	ProductionMode bool
	// AllowedOrigins lists accepted Origin headers for the websocket upgrade.
	// Empty keeps the same-host check; "*" accepts any origin.
	AllowedOrigins []string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			TTL:           15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "goRealtime",
			Audience:      "realtime",
		},
		Connection: ConnectionConfig{
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxMessageSize:  64 * 1024,
			SendBuffer:      256,
			NearExpiryLead:  2 * time.Minute,
			AuthTimeout:     30 * time.Second,
			IdentityTimeout: 5 * time.Second,
		},
		Rooms: RoomsConfig{
			DefaultRoom:        protocol.DefaultRoom,
			PersonalRoomPrefix: "user:",
			Policies: map[string]RoomPolicy{
				protocol.DefaultRoom: PolicyTeacherOrAdmin,
				"admin_dashboard":    PolicyAdmin,
			},
			DefaultPolicy: PolicyDeny,
		},
		Issuer: IssuerConfig{
			CookieName:        "rt_session",
			SessionPrefix:     "rts",
			SessionLifetime:   7 * 24 * time.Hour,
			SlidingExpiration: true,
			JitterEnabled:     true,
			JitterRange:       30 * time.Second,
			MaxRenewals:       30,
			RenewWindow:       time.Minute,
			EnableIPThrottle:  false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode: false,
		},
	}
}

// DefaultConfig returns the default configuration with a freshly generated
// ed25519 key pair. Keys do not survive a restart; production deployments
// load their own.
func DefaultConfig() Config {
	cfg := defaultConfig()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("goRealtime: generate ed25519 key: %v", err))
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Rooms.Policies != nil {
		out.Rooms.Policies = make(map[string]RoomPolicy, len(cfg.Rooms.Policies))
		for room, p := range cfg.Rooms.Policies {
			out.Rooms.Policies[room] = p
		}
	}
	if cfg.Security.AllowedOrigins != nil {
		out.Security.AllowedOrigins = append([]string(nil), cfg.Security.AllowedOrigins...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every section and returns the first violation.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.TTL <= 0 {
		return errors.New("JWT TTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "hs256" && c.Security.ProductionMode && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 PrivateKey must be at least 32 bytes in ProductionMode")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Connection
	if c.Connection.WriteWait <= 0 {
		return errors.New("Connection WriteWait must be > 0")
	}
	if c.Connection.PongWait <= 0 {
		return errors.New("Connection PongWait must be > 0")
	}
	if c.Connection.PingPeriod <= 0 || c.Connection.PingPeriod >= c.Connection.PongWait {
		return errors.New("Connection PingPeriod must be > 0 and < PongWait")
	}
	if c.Connection.MaxMessageSize <= 0 {
		return errors.New("Connection MaxMessageSize must be > 0")
	}
	if c.Connection.SendBuffer <= 0 {
		return errors.New("Connection SendBuffer must be > 0")
	}
	if c.Connection.NearExpiryLead < 0 || c.Connection.NearExpiryLead >= c.JWT.TTL {
		return errors.New("Connection NearExpiryLead must be >= 0 and < JWT TTL")
	}
	if c.Connection.AuthTimeout < 0 {
		return errors.New("Connection AuthTimeout must be >= 0")
	}
	if c.Connection.IdentityTimeout <= 0 {
		return errors.New("Connection IdentityTimeout must be > 0")
	}

	// Rooms
	if strings.TrimSpace(c.Rooms.DefaultRoom) == "" {
		return errors.New("Rooms DefaultRoom must not be empty")
	}
	if strings.TrimSpace(c.Rooms.PersonalRoomPrefix) == "" {
		return errors.New("Rooms PersonalRoomPrefix must not be empty")
	}
	if !c.Rooms.DefaultPolicy.Valid() {
		return fmt.Errorf("Rooms DefaultPolicy %q is not a known policy", c.Rooms.DefaultPolicy)
	}
	for room, p := range c.Rooms.Policies {
		if strings.TrimSpace(room) == "" {
			return errors.New("Rooms Policies contains an empty room name")
		}
		if strings.HasPrefix(room, c.Rooms.PersonalRoomPrefix) {
			return fmt.Errorf("Rooms policy for %q collides with the personal room prefix", room)
		}
		if !p.Valid() {
			return fmt.Errorf("Rooms policy for %q is not a known policy", room)
		}
	}

	// Issuer
	if strings.TrimSpace(c.Issuer.CookieName) == "" {
		return errors.New("Issuer CookieName must not be empty")
	}
	if strings.TrimSpace(c.Issuer.SessionPrefix) == "" {
		return errors.New("Issuer SessionPrefix must not be empty")
	}
	if c.Issuer.SessionLifetime <= 0 {
		return errors.New("Issuer SessionLifetime must be > 0")
	}
	if c.Issuer.JitterEnabled && c.Issuer.JitterRange <= 0 {
		return errors.New("Issuer JitterRange must be > 0 when jitter is enabled")
	}
	if c.Issuer.MaxRenewals < 0 {
		return errors.New("Issuer MaxRenewals must be >= 0")
	}
	if c.Issuer.MaxRenewals > 0 && c.Issuer.RenewWindow <= 0 {
		return errors.New("Issuer RenewWindow must be > 0 when MaxRenewals is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	for _, origin := range c.Security.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return errors.New("Security AllowedOrigins contains an empty origin")
		}
		if origin == "*" && c.Security.ProductionMode {
			return errors.New("Security AllowedOrigins must not contain * in ProductionMode")
		}
	}

	return nil
}

// LintWarning is a non-fatal configuration finding.
type LintWarning struct {
	Code    string
	Message string
}

// Lint reports settings that validate but are probably unintended.
func (c *Config) Lint() []LintWarning {
	var ws []LintWarning
	if c.Connection.NearExpiryLead == 0 {
		ws = append(ws, LintWarning{
			Code:    "near_expiry_disabled",
			Message: "token_near_expiry hints are disabled; clients rely on their own renewal schedule only",
		})
	}
	if c.Issuer.MaxRenewals == 0 {
		ws = append(ws, LintWarning{
			Code:    "issuer_unthrottled",
			Message: "credential issuer renewals are not rate limited",
		})
	}
	if c.JWT.TTL > time.Hour {
		ws = append(ws, LintWarning{
			Code:    "long_token_ttl",
			Message: "realtime tokens live longer than one hour",
		})
	}
	if c.JWT.Leeway > 30*time.Second {
		ws = append(ws, LintWarning{
			Code:    "large_leeway",
			Message: "JWT leeway above 30s extends token lifetime noticeably",
		})
	}
	if c.Security.ProductionMode && !c.Audit.Enabled {
		ws = append(ws, LintWarning{
			Code:    "audit_disabled",
			Message: "audit is disabled in ProductionMode",
		})
	}
	for _, origin := range c.Security.AllowedOrigins {
		if origin == "*" {
			ws = append(ws, LintWarning{
				Code:    "any_origin",
				Message: "websocket upgrades are accepted from any origin",
			})
			break
		}
	}
	return ws
}

// roomPolicy returns the policy configured for room.
func (c *Config) roomPolicy(room string) RoomPolicy {
	if p, ok := c.Rooms.Policies[room]; ok {
		return p
	}
	return c.Rooms.DefaultPolicy
}
