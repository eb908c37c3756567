package goRealtime

import "time"

// SecurityReport summarizes the security-relevant configuration of a
// running engine, for startup logs and health endpoints.
type SecurityReport struct {
	ProductionMode     bool
	SigningAlgorithm   string
	TokenTTL           time.Duration
	Leeway             time.Duration
	NearExpiryLead     time.Duration
	AuthTimeout        time.Duration
	IssuerEnabled      bool
	RenewThrottle      bool
	IPThrottle         bool
	AuditEnabled       bool
	OriginPolicy       string
	DefaultRoomPolicy  RoomPolicy
	ConfiguredRooms    int
	PermissionsEnabled bool
}

// SecurityReport returns the report for e.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	origins := "same-host"
	for _, o := range e.config.Security.AllowedOrigins {
		if o == "*" {
			origins = "any"
			break
		}
		origins = "allow-list"
	}

	issuer := e.sessionStore != nil
	return SecurityReport{
		ProductionMode:     e.config.Security.ProductionMode,
		SigningAlgorithm:   e.config.JWT.SigningMethod,
		TokenTTL:           e.config.JWT.TTL,
		Leeway:             e.config.JWT.Leeway,
		NearExpiryLead:     e.config.Connection.NearExpiryLead,
		AuthTimeout:        e.config.Connection.AuthTimeout,
		IssuerEnabled:      issuer,
		RenewThrottle:      issuer && e.config.Issuer.MaxRenewals > 0,
		IPThrottle:         issuer && e.config.Issuer.MaxRenewals > 0 && e.config.Issuer.EnableIPThrottle,
		AuditEnabled:       e.audit != nil,
		OriginPolicy:       origins,
		DefaultRoomPolicy:  e.config.Rooms.DefaultPolicy,
		ConfiguredRooms:    len(e.config.Rooms.Policies),
		PermissionsEnabled: e.roleManager != nil,
	}
}
