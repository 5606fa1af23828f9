package server

// Route path constants
const (
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Token exchange
	RouteOAuthExchange  = "/oauth/exchange"
	RouteOAuthRenew     = "/oauth/renew"
	RouteOAuthAuthorize = "/oauth/authorize"

	// Account store
	RouteAccounts = "/accounts"
	RouteAccount  = "/accounts/{id}"
)
