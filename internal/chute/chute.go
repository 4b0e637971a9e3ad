// Package chute holds the managed-application entity, its persistent
// registry, and the capability module that plans chute operations.
package chute

// NetworkInterface is one derived network binding cached on a chute.
type NetworkInterface struct {
	InternalIntf   string `json:"internal_intf"`
	NetType        string `json:"net_type"`
	ExternalIpaddr string `json:"external_ipaddr,omitempty"`
}

// Chute is a managed sandboxed application. Name is the unique key across
// the device. IPs, SSIDs and StaticIPs are reservations used for conflict
// checks across chutes; Interfaces is a cache of derived facts refreshed on
// every create/update.
type Chute struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Config    map[string]any `json:"config,omitempty"`
	Running   bool           `json:"running"`
	IPs       []string       `json:"ips,omitempty"`
	SSIDs     []string       `json:"ssids,omitempty"`
	StaticIPs []string       `json:"static_ips,omitempty"`

	Interfaces []NetworkInterface `json:"interfaces,omitempty"`
}

// Clone returns a deep copy, used to stage rollback state.
func (c *Chute) Clone() *Chute {
	if c == nil {
		return nil
	}
	out := *c
	out.IPs = append([]string(nil), c.IPs...)
	out.SSIDs = append([]string(nil), c.SSIDs...)
	out.StaticIPs = append([]string(nil), c.StaticIPs...)
	out.Interfaces = append([]NetworkInterface(nil), c.Interfaces...)
	if c.Config != nil {
		out.Config = make(map[string]any, len(c.Config))
		for k, v := range c.Config {
			out.Config[k] = v
		}
	}
	return &out
}

// InternalInterfaceList returns the internal interface names from the cache,
// or nil if no interfaces have been derived yet.
func (c *Chute) InternalInterfaceList() []string {
	if len(c.Interfaces) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Interfaces))
	for _, iface := range c.Interfaces {
		out = append(out, iface.InternalIntf)
	}
	return out
}

// GatewayInterface returns the external address and internal interface of
// the chute's WAN binding, or empty values when none is cached.
func (c *Chute) GatewayInterface() (ipaddr, internal string) {
	for _, iface := range c.Interfaces {
		if iface.NetType == "wan" {
			return iface.ExternalIpaddr, iface.InternalIntf
		}
	}
	return "", ""
}

// WANInterface returns the cached WAN interface, or nil.
func (c *Chute) WANInterface() *NetworkInterface {
	for i := range c.Interfaces {
		if c.Interfaces[i].NetType == "wan" {
			return &c.Interfaces[i]
		}
	}
	return nil
}
