package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	AuthKey          = "authenticated"
	KeyFromProtected = "from_protected"
)
