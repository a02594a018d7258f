package core

// Transport is the router's view of the network side. A network.Link, a
// record.Recorder and a record.Replayer all satisfy it.
//
// The transport closes Inbound when the stream ends. The router closes
// Outbound when it shuts down; the transport must keep receiving from
// Outbound until then.
type Transport interface {
	// Inbound carries lines from the network to the router.
	Inbound() <-chan string

	// Outbound carries lines from the router to the network.
	Outbound() chan<- string
}
