// Package systemd renders the daemon's deployment unit and checks an
// installed unit file for drift against its install-time hash.
package systemd

import "fmt"

// UnitTemplate returns the systemd unit for the filedrop daemon.
// The watch directories named in the config must be listed in
// ReadWritePaths; the rendered unit includes the state directory and
// any extra paths passed by the caller.
func UnitTemplate(configPath, stateDir string, rwPaths []string) string {
	paths := stateDir
	for _, p := range rwPaths {
		paths += " " + p
	}
	return fmt.Sprintf(`[Unit]
Description=filedrop file processing daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=/usr/local/bin/filedrop serve --config %s
Restart=on-failure
RestartSec=5
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths=%s

[Install]
WantedBy=multi-user.target
`, configPath, paths)
}
