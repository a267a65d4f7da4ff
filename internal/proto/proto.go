package proto

const (
	// libp2p stream protocol ID for call signaling (one stream per call attempt)
	CallProtoID = "/radyo/call/1.0.0"

	// libp2p stream protocol ID used to fetch blobs by hash from a provider
	BlobProtoID = "/radyo/blob/1.0.0"

	// mDNS service tag for LAN discovery
	MdnsTag = "radyo-mdns"
)
