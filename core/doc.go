// Package core implements the message router at the centre of yakr.
//
// The Router owns the connection handshake, the set of loaded plugins and
// the output-listener set. It runs a single event loop that multiplexes the
// network inbound channel with every plugin's outbound channel and routes
// one line at a time: network lines are broadcast to all plugins, plugin
// lines are sent to the network and to subscribed listeners.
package core
