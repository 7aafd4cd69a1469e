// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"net"
	"strconv"

	"github.com/anonnet/infoserviced/internal/codec"
)

// DefaultProtocol is the transport of listener interfaces that do not name
// one.
const DefaultProtocol = "RAW/TCP"

// ListenerInterface is an address a relay or cascade accepts connections on.
type ListenerInterface struct {
	Protocol string
	Host     string
	Port     int

	// Hidden interfaces are reachable but not announced to clients.
	Hidden bool

	// Virtual interfaces are announced but served by another host, such as
	// a port forwarding firewall.
	Virtual bool
}

// Addr returns the host and port joined for dialing.
func (l ListenerInterface) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// parseListener decodes a ListenerInterface element.
func parseListener(n *codec.Node) (ListenerInterface, error) {
	l := ListenerInterface{
		Protocol: DefaultProtocol,
		Hidden:   n.AttrBool("hidden", false),
		Virtual:  n.AttrBool("virtual", false),
	}
	if proto, ok := n.ChildText("Type"); ok && proto != "" {
		l.Protocol = proto
	}
	l.Host, _ = n.ChildText("Host")
	if l.Host == "" {
		l.Host, _ = n.ChildText("IP")
	}
	if l.Host == "" {
		return l, ruleError(ErrMalformedDescriptor, "listener interface "+
			"without host")
	}
	portText, _ := n.ChildText("Port")
	port, err := strconv.Atoi(portText)
	if err != nil || port < 1 || port > 65535 {
		str := fmt.Sprintf("listener interface with invalid port %q", portText)
		return l, ruleError(ErrMalformedDescriptor, str)
	}
	l.Port = port
	return l, nil
}

// parseListeners decodes every ListenerInterface below a ListenerInterfaces
// container.  Malformed interfaces are skipped.
func parseListeners(container *codec.Node) []ListenerInterface {
	if container == nil {
		return nil
	}
	var listeners []ListenerInterface
	for _, n := range container.ChildrenNamed("ListenerInterface") {
		l, err := parseListener(n)
		if err != nil {
			log.Debugf("Skipping listener interface: %v", err)
			continue
		}
		listeners = append(listeners, l)
	}
	return listeners
}

// node returns the listener as an element.
func (l ListenerInterface) node() *codec.Node {
	n := codec.NewNode("ListenerInterface")
	if l.Hidden {
		n.SetAttr("hidden", "true")
	}
	if l.Virtual {
		n.SetAttr("virtual", "true")
	}
	n.AddText("Type", l.Protocol)
	n.AddText("Port", strconv.Itoa(l.Port))
	n.AddText("Host", l.Host)
	return n
}

// listenersNode returns a ListenerInterfaces container holding the listeners.
func listenersNode(listeners []ListenerInterface) *codec.Node {
	n := codec.NewNode("ListenerInterfaces")
	for _, l := range listeners {
		n.AddChild(l.node())
	}
	return n
}
