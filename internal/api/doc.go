// Package api is the HTTP facade in front of Switcher smart switches.
//
// Every request is handled on its own: the path, query and body are
// validated into a switcher.Command (or a switcher.BreezeCommand), the
// command is handed to a switcher.Adapter, and the outcome is mapped to an
// HTTP status and a JSON body. Invalid requests never reach the adapter.
//
// Status mapping:
//
//	success                      200
//	*switcher.ValidationError    400 {"error": <code>}
//	missing or bad bearer token  401 {"error": "unauthorised"}
//	no device found              404 {"error": "no_devices_found" | "device_not_found"}
//	command rejected             502 {"error": "command_rejected"}
//	bridge unavailable           502 {"error": "bridge_unavailable"}
//	device unreachable           504 {"error": "device_unreachable"}
//	device timeout               504 {"error": "device_timeout"}
//	anything else                500 {"error": "internal_error"}
//
// Every device call is also counted in Prometheus, recorded in the command
// journal, written to InfluxDB and broadcast as a device.command event when
// those collaborators are configured. None of them is ever read to answer a
// device request.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
