// Package hostconfig translates the declarative host configuration blob into
// owned sections across the per-subsystem config files and plans their
// transactional application.
package hostconfig

import (
	"github.com/paradrop/agent/internal/uci"
)

// Render expands the host configuration payload into the desired set of
// router-owned sections, keyed by subsystem file name. Absent payload keys
// yield no sections for their subsystem, which Generate interprets as "remove
// whatever the router owns there".
func Render(cfg map[string]any) map[string][]*uci.Section {
	out := make(map[string][]*uci.Section)
	add := func(file string, s *uci.Section) {
		s.Owner = uci.RouterOwner
		out[file] = append(out[file], s)
	}

	if wan, ok := cfg["wan"].(map[string]any); ok {
		opts := map[string]any{"proto": "dhcp"}
		copyOpt(opts, wan, "interface", "ifname")
		copyOpt(opts, wan, "proto", "proto")
		add(uci.FileNetwork, &uci.Section{Type: "interface", Name: "wan", Options: opts})
		add(uci.FileFirewall, &uci.Section{Type: "zone", Options: map[string]any{
			"name":    "wan",
			"network": []string{"wan"},
			"masq":    "1",
			"input":   "ACCEPT",
			"output":  "ACCEPT",
			"forward": "REJECT",
		}})
	}

	if lan, ok := cfg["lan"].(map[string]any); ok {
		opts := map[string]any{"proto": "static"}
		copyOpt(opts, lan, "interface", "ifname")
		copyOpt(opts, lan, "ipaddr", "ipaddr")
		copyOpt(opts, lan, "netmask", "netmask")
		add(uci.FileNetwork, &uci.Section{Type: "interface", Name: "lan", Options: opts})
		add(uci.FileFirewall, &uci.Section{Type: "zone", Options: map[string]any{
			"name":    "lan",
			"network": []string{"lan"},
			"input":   "ACCEPT",
			"output":  "ACCEPT",
			"forward": "ACCEPT",
		}})
		add(uci.FileFirewall, &uci.Section{Type: "forwarding", Options: map[string]any{
			"src":  "lan",
			"dest": "wan",
		}})
		if dhcp, ok := lan["dhcp"].(map[string]any); ok {
			opts := map[string]any{"interface": "lan"}
			copyOpt(opts, dhcp, "start", "start")
			copyOpt(opts, dhcp, "limit", "limit")
			copyOpt(opts, dhcp, "lease", "leasetime")
			add(uci.FileDHCP, &uci.Section{Type: "dhcp", Name: "lan", Options: opts})
		}
	}

	if wifi, ok := cfg["wifi"].([]any); ok {
		for _, entry := range wifi {
			w, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			device := "radio0"
			if d, ok := w["device"].(string); ok && d != "" {
				device = d
			}
			devOpts := map[string]any{"type": "auto"}
			copyOpt(devOpts, w, "channel", "channel")
			copyOpt(devOpts, w, "hwmode", "hwmode")
			add(uci.FileWireless, &uci.Section{Type: "wifi-device", Name: device, Options: devOpts})

			ifOpts := map[string]any{
				"device":  device,
				"mode":    "ap",
				"network": "lan",
			}
			copyOpt(ifOpts, w, "ssid", "ssid")
			copyOpt(ifOpts, w, "encryption", "encryption")
			copyOpt(ifOpts, w, "key", "key")
			add(uci.FileWireless, &uci.Section{Type: "wifi-iface", Options: ifOpts})
		}
	}

	if qos, ok := cfg["qos"].(map[string]any); ok {
		for name, entry := range qos {
			q, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			opts := make(map[string]any, len(q))
			for k, v := range q {
				opts[k] = uci.Stringify(v)
			}
			add(uci.FileQos, &uci.Section{Type: "interface", Name: name, Options: opts})
		}
	}

	return out
}

// copyOpt copies src[from] to dst[to] when present, normalized to its string
// form.
func copyOpt(dst map[string]any, src map[string]any, from, to string) {
	if v, ok := src[from]; ok && v != nil {
		dst[to] = uci.Stringify(v)
	}
}
