package constants

// Static route constants
const (
	PublicRoute    = "/"
	LoginRoute     = "/login"
	RegisterRoute  = "/register"
	DashboardRoute = "/user"
	SubscribeRoute = "/user/subscribe"
)
