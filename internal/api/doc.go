// Package api exposes the tool registry over HTTP. The /transfer routes keep
// the fixed request/response contract of the transfer service; /tools/:name
// reaches every registered tool and /records lists recent calls. Status codes:
// 403 for policy violations, 404 for unknown tools, 429 when rate limited,
// 401/403 when API keys are configured and the caller's key is missing or
// lacks permission, 500 when the record store fails, 400 for every other
// failure.
package api
