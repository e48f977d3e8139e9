// Package process supervises the external Switcher protocol bridge when
// switcher-rest is asked to run it as a child process.
//
// The bridge owns the device protocol (UDP discovery, session handshake,
// packet signing) and talks to this service over MQTT. Running it under a
// Supervisor keeps a single-container deployment to one entry point:
//
//	sup := process.New(process.Config{
//	    Name:    "switcher-bridge",
//	    Command: "/usr/local/bin/switcher-mqtt-bridge",
//	    Args:    []string{"--prefix", "switcher"},
//	}, logger)
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
//
// The child runs in its own process group. Stop sends SIGTERM to the group
// and escalates to SIGKILL after Config.StopTimeout. An unexpected exit is
// restarted after Config.RestartDelay until Config.MaxRestarts is reached.
package process
