package authn

// Capabilities enumerates the actions a principal's role unlocks, attached
// to the welcome envelope sent on connect. Nothing reads the set after that:
// the handlers, the registry's topic policy and the room engine check the
// principal's role (Principal.IsAdmin, Role) directly.
type Capabilities struct {
	CanSubscribeAdminTopics bool `json:"canSubscribeAdminTopics"`
	CanSetAdminPresence     bool `json:"canSetAdminPresence"`
	CanManualResetBreaker   bool `json:"canManualResetBreaker"`
	CanBypassMaintenance    bool `json:"canBypassMaintenance"`
}

// CapabilitiesFor derives the capability set for a principal's role. A
// service caller (verified via the HMAC header rather than a session token)
// always receives the full set, mirroring the maintenance bypass the
// original handlers granted to service-to-service calls.
func CapabilitiesFor(role Role, isService bool) Capabilities {
	if isService {
		return Capabilities{true, true, true, true}
	}
	switch role {
	case RoleSuperadmin:
		return Capabilities{true, true, true, true}
	case RoleAdmin:
		return Capabilities{true, true, true, false}
	default:
		return Capabilities{}
	}
}
