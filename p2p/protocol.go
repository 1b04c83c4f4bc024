package p2p

import "golang.org/x/exp/slices"

// ProtocolID uniquely identifies a Protocol within a Service. The id space
// is chosen by the application; the Service never allocates one itself.
type ProtocolID uint

// Codec decodes inbound byte batches produced by a protocol substream into
// application-level message batches, and encodes outbound message batches
// back into bytes for the wire. Implementations live outside this package
// (see the codec subpackage for a snappy-backed one); the Service only
// ever touches the descriptor that carries one.
type Codec interface {
	Decode(batch []byte) ([][]byte, error)
	Encode(msgs [][]byte) ([]byte, error)
}

// GlobalHandlerFactory builds the single GlobalHandler instance for a
// protocol, instantiated lazily on the first session in which the protocol
// opens. A nil factory means the protocol has no global handler.
type GlobalHandlerFactory func() GlobalHandler

// PerSessionHandlerFactory builds a PerSessionHandler bound to one session.
// Invoked once per (session, protocol) pair at ProtocolOpen. A nil factory
// means the protocol has no per-session handler.
type PerSessionHandlerFactory func() PerSessionHandler

// ProtocolMeta is the immutable descriptor for one protocol, registered at
// Service construction. The set of descriptors is fixed for the lifetime
// of the Service.
type ProtocolMeta struct {
	ID                 ProtocolID
	Name               string
	SupportedVersions  []string
	Codec              Codec
	GlobalHandler      GlobalHandlerFactory
	PerSessionHandler  PerSessionHandlerFactory
}

// ProtocolInfo is the read-only projection of a ProtocolMeta exposed
// through ServiceContext: name and supported versions, nothing that would
// let a handler reach into the codec or handler factories of another
// protocol.
type ProtocolInfo struct {
	Name              string
	SupportedVersions []string
}

// protocolTable is the immutable, constructed-once set of protocol
// descriptors, plus the derived ProtocolInfo projection.
type protocolTable struct {
	byID map[ProtocolID]*ProtocolMeta
	info map[ProtocolID]ProtocolInfo
	// names is the sorted list of registered protocol names, used when a
	// newly opened outbound session must request every configured
	// protocol in a deterministic order.
	names []string
	nameToID map[string]ProtocolID
}

func newProtocolTable(metas []ProtocolMeta) *protocolTable {
	t := &protocolTable{
		byID:     make(map[ProtocolID]*ProtocolMeta, len(metas)),
		info:     make(map[ProtocolID]ProtocolInfo, len(metas)),
		nameToID: make(map[string]ProtocolID, len(metas)),
	}
	for i := range metas {
		m := metas[i]
		cp := m
		t.byID[m.ID] = &cp
		t.info[m.ID] = ProtocolInfo{Name: m.Name, SupportedVersions: m.SupportedVersions}
		t.names = append(t.names, m.Name)
		t.nameToID[m.Name] = m.ID
	}
	slices.Sort(t.names)
	return t
}

func (t *protocolTable) get(id ProtocolID) (*ProtocolMeta, bool) {
	m, ok := t.byID[id]
	return m, ok
}

func (t *protocolTable) infoSnapshot() map[ProtocolID]ProtocolInfo {
	out := make(map[ProtocolID]ProtocolInfo, len(t.info))
	for k, v := range t.info {
		out[k] = v
	}
	return out
}
