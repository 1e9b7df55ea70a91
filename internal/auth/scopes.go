package auth

// Known OAuth scopes used by the presence API.
const (
	ScopePresenceRead  = "presence:read"
	ScopePresenceWrite = "presence:write"
)
