package wire

// Frame kinds used on registry connections, in addition to the four declared
// in frame.go. The registry is a directory only (spec §4.3) and reuses the
// same length-delimited framing as the peer mesh.
const (
	KindKnownPeers   Kind = 4
	KindPeerJoined   Kind = 5
	KindPeerDeparted Kind = 6
)

// MessageTag identifies the body carried inside a KindIBMessage frame.
type MessageTag uint16

const (
	TagCanFrameEvent MessageTag = iota + 1
	TagCanTransmitAck
	TagLinTransmission
	TagLinFrameResponse
	TagFlexrayFrameEvent
	TagFlexraySymbolEvent
	TagFlexrayPocStatus
	TagGenericPublish
	TagParticipantStatus
	TagSystemCommand
	TagNextSimTask
)

// EndpointAddress uniquely identifies a message sink/source within the mesh.
type EndpointAddress struct {
	ParticipantID uint64
	EndpointID    uint64
}

func (a EndpointAddress) encode(e *Encoder) {
	e.U64(a.ParticipantID)
	e.U64(a.EndpointID)
}

func decodeEndpointAddress(d *Decoder) EndpointAddress {
	return EndpointAddress{ParticipantID: d.U64(), EndpointID: d.U64()}
}

// IBMessage is the generic envelope for all simulation traffic: the carrier
// named in spec §4.1 as the "ib-message" frame kind. Network and Source let
// the mesh route and subscription-filter without decoding the body.
type IBMessage struct {
	Network string
	Source  EndpointAddress
	Tag     MessageTag
	Body    []byte
}

// EncodeIBMessage produces the payload for a KindIBMessage frame.
func EncodeIBMessage(m IBMessage) []byte {
	e := NewEncoder()
	e.String(m.Network)
	m.Source.encode(e)
	e.U16(uint16(m.Tag))
	e.ByteVec(m.Body)
	return e.Bytes()
}

// DecodeIBMessage parses a KindIBMessage frame's payload.
func DecodeIBMessage(payload []byte) (IBMessage, error) {
	d := NewDecoder(payload)
	m := IBMessage{
		Network: d.String(),
		Source:  decodeEndpointAddress(d),
		Tag:     MessageTag(d.U16()),
		Body:    d.ByteVec(),
	}
	return m, d.Err()
}

// --- Handshake (KindHandshake) ---

// HandshakeRequest is sent by the connecting side of a peer (or registry) link.
type HandshakeRequest struct {
	ProtocolVersion uint32
	ParticipantName string
	CapabilityFlags uint32
}

func (h HandshakeRequest) Marshal() []byte {
	e := NewEncoder()
	e.U32(h.ProtocolVersion)
	e.String(h.ParticipantName)
	e.U32(h.CapabilityFlags)
	return e.Bytes()
}

func UnmarshalHandshakeRequest(payload []byte) (HandshakeRequest, error) {
	d := NewDecoder(payload)
	h := HandshakeRequest{
		ProtocolVersion: d.U32(),
		ParticipantName: d.String(),
		CapabilityFlags: d.U32(),
	}
	return h, d.Err()
}

// HandshakeReject is the one-byte rejection reason sent in place of an accept.
type HandshakeReject struct {
	Reason byte
}

const (
	RejectVersionTooOld byte = iota
	RejectDuplicateName
	RejectUnknown
)

// HandshakeAccept is the accepting side's response.
type HandshakeAccept struct {
	ParticipantID   uint64
	AcceptedVersion uint32
	ParticipantName string
}

func (h HandshakeAccept) Marshal() []byte {
	e := NewEncoder()
	e.U64(h.ParticipantID)
	e.U32(h.AcceptedVersion)
	e.String(h.ParticipantName)
	return e.Bytes()
}

func UnmarshalHandshakeAccept(payload []byte) (HandshakeAccept, error) {
	d := NewDecoder(payload)
	h := HandshakeAccept{
		ParticipantID:   d.U64(),
		AcceptedVersion: d.U32(),
		ParticipantName: d.String(),
	}
	return h, d.Err()
}

// --- Registry join (KindHandshake, sent only on the registry's liveness
// connection — distinct from the peer-to-peer HandshakeRequest above) ---

// RegistryJoinRequest is sent by a participant to the registry on connect.
// ListenAddress is where other participants can dial this one (spec §4.3).
type RegistryJoinRequest struct {
	ProtocolVersion uint32
	ParticipantName string
	ListenAddress   string
}

func (j RegistryJoinRequest) Marshal() []byte {
	e := NewEncoder()
	e.U32(j.ProtocolVersion)
	e.String(j.ParticipantName)
	e.String(j.ListenAddress)
	return e.Bytes()
}

func UnmarshalRegistryJoinRequest(payload []byte) (RegistryJoinRequest, error) {
	d := NewDecoder(payload)
	j := RegistryJoinRequest{
		ProtocolVersion: d.U32(),
		ParticipantName: d.String(),
		ListenAddress:   d.String(),
	}
	return j, d.Err()
}

// RegistryJoinResponse is the registry's reply to a RegistryJoinRequest:
// either an acceptance (assigned id + negotiated version) or a one-byte
// rejection reason (spec §4.3's "one-byte reason" applied to the join path).
type RegistryJoinResponse struct {
	Accepted        bool
	ParticipantID   uint64
	AcceptedVersion uint32
	RejectReason    byte
}

func (r RegistryJoinResponse) Marshal() []byte {
	e := NewEncoder()
	e.Bool(r.Accepted)
	if r.Accepted {
		e.U64(r.ParticipantID)
		e.U32(r.AcceptedVersion)
	} else {
		e.U8(r.RejectReason)
	}
	return e.Bytes()
}

func UnmarshalRegistryJoinResponse(payload []byte) (RegistryJoinResponse, error) {
	d := NewDecoder(payload)
	r := RegistryJoinResponse{Accepted: d.Bool()}
	if r.Accepted {
		r.ParticipantID = d.U64()
		r.AcceptedVersion = d.U32()
	} else {
		r.RejectReason = d.U8()
	}
	return r, d.Err()
}

// --- Subscription announcement (KindSubscriptionAnnounce) ---

// SubscriptionAnnouncement declares that the sender wants messages for
// (Network, Tag) delivered to EndpointID.
type SubscriptionAnnouncement struct {
	Network    string
	Tag        MessageTag
	EndpointID uint64
}

func (s SubscriptionAnnouncement) Marshal() []byte {
	e := NewEncoder()
	e.String(s.Network)
	e.U16(uint16(s.Tag))
	e.U64(s.EndpointID)
	return e.Bytes()
}

func UnmarshalSubscriptionAnnouncement(payload []byte) (SubscriptionAnnouncement, error) {
	d := NewDecoder(payload)
	s := SubscriptionAnnouncement{
		Network:    d.String(),
		Tag:        MessageTag(d.U16()),
		EndpointID: d.U64(),
	}
	return s, d.Err()
}

// --- Service descriptors & announcement (carried as IBMessage bodies) ---

// ServiceType enumerates the kinds of named endpoint a participant can expose.
type ServiceType uint8

const (
	ServiceController ServiceType = iota
	ServicePublisher
	ServiceSubscriber
	ServiceLifecycle
	ServiceTimeSync
)

// ServiceDescriptor identifies one service instance. Identity is the full
// tuple; equality compares all fields (spec §3).
type ServiceDescriptor struct {
	ParticipantName string
	NetworkName     string
	ServiceName     string
	ServiceType     ServiceType
	EndpointID      uint64
	Attributes      map[string]string
}

// Key returns a value usable as a map key for set membership / diffing.
func (s ServiceDescriptor) Key() string {
	var b [8]byte
	for i := range b {
		b[i] = byte(s.EndpointID >> (8 * i))
	}
	key := s.ParticipantName + "\x00" + s.NetworkName + "\x00" + s.ServiceName + "\x00" +
		string([]byte{byte(s.ServiceType)}) + "\x00" + string(b[:])
	for _, k := range sortedKeys(s.Attributes) {
		key += "\x00" + k + "\x00" + s.Attributes[k]
	}
	return key
}

// Equal compares every field, including attributes.
func (s ServiceDescriptor) Equal(o ServiceDescriptor) bool {
	if s.ParticipantName != o.ParticipantName || s.NetworkName != o.NetworkName ||
		s.ServiceName != o.ServiceName || s.ServiceType != o.ServiceType ||
		s.EndpointID != o.EndpointID {
		return false
	}
	if len(s.Attributes) != len(o.Attributes) {
		return false
	}
	for k, v := range s.Attributes {
		if ov, ok := o.Attributes[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (s ServiceDescriptor) encode(e *Encoder) {
	e.String(s.ParticipantName)
	e.String(s.NetworkName)
	e.String(s.ServiceName)
	e.U8(uint8(s.ServiceType))
	e.U64(s.EndpointID)
	// Attribute keys are sorted so two round-trips of an equal map produce
	// byte-identical encodings (spec §3's round-trip invariant).
	keys := sortedKeys(s.Attributes)
	e.Seq(len(keys), func(i int) {
		e.String(keys[i])
		e.String(s.Attributes[keys[i]])
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// simple insertion sort: attribute maps are small (a handful of entries).
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func decodeServiceDescriptor(d *Decoder) ServiceDescriptor {
	s := ServiceDescriptor{
		ParticipantName: d.String(),
		NetworkName:     d.String(),
		ServiceName:     d.String(),
		ServiceType:     ServiceType(d.U8()),
		EndpointID:      d.U64(),
	}
	n := d.U32()
	if d.Err() != nil {
		return s
	}
	if n > 0 {
		s.Attributes = make(map[string]string, n)
	}
	for i := uint32(0); i < n; i++ {
		k := d.String()
		v := d.String()
		if d.Err() != nil {
			return s
		}
		s.Attributes[k] = v
	}
	return s
}

// ServiceAnnouncement is a full snapshot of a participant's service set.
type ServiceAnnouncement struct {
	ParticipantName string
	Services        []ServiceDescriptor
}

func (a ServiceAnnouncement) Marshal() []byte {
	e := NewEncoder()
	e.String(a.ParticipantName)
	e.Seq(len(a.Services), func(i int) {
		a.Services[i].encode(e)
	})
	return e.Bytes()
}

func UnmarshalServiceAnnouncement(payload []byte) (ServiceAnnouncement, error) {
	d := NewDecoder(payload)
	a := ServiceAnnouncement{ParticipantName: d.String()}
	d.Seq(func(i int) {
		a.Services = append(a.Services, decodeServiceDescriptor(d))
	})
	return a, d.Err()
}

// --- Registry messages ---

// KnownPeer is one entry in the registry's roster reply.
type KnownPeer struct {
	Name    string
	ID      uint64
	Address string
}

// KnownPeersMessage is the registry's reply to a new participant's handshake.
type KnownPeersMessage struct {
	Peers []KnownPeer
}

func (m KnownPeersMessage) Marshal() []byte {
	e := NewEncoder()
	e.Seq(len(m.Peers), func(i int) {
		p := m.Peers[i]
		e.String(p.Name)
		e.U64(p.ID)
		e.String(p.Address)
	})
	return e.Bytes()
}

func UnmarshalKnownPeersMessage(payload []byte) (KnownPeersMessage, error) {
	d := NewDecoder(payload)
	var m KnownPeersMessage
	d.Seq(func(i int) {
		m.Peers = append(m.Peers, KnownPeer{Name: d.String(), ID: d.U64(), Address: d.String()})
	})
	return m, d.Err()
}

// PeerJoinedAnnouncement is broadcast by the registry when a newcomer joins.
type PeerJoinedAnnouncement struct {
	Peer KnownPeer
}

func (m PeerJoinedAnnouncement) Marshal() []byte {
	e := NewEncoder()
	e.String(m.Peer.Name)
	e.U64(m.Peer.ID)
	e.String(m.Peer.Address)
	return e.Bytes()
}

func UnmarshalPeerJoinedAnnouncement(payload []byte) (PeerJoinedAnnouncement, error) {
	d := NewDecoder(payload)
	m := PeerJoinedAnnouncement{Peer: KnownPeer{Name: d.String(), ID: d.U64(), Address: d.String()}}
	return m, d.Err()
}

// PeerDepartedAnnouncement is broadcast by the registry when a peer's liveness
// channel disconnects.
type PeerDepartedAnnouncement struct {
	Name string
}

func (m PeerDepartedAnnouncement) Marshal() []byte {
	e := NewEncoder()
	e.String(m.Name)
	return e.Bytes()
}

func UnmarshalPeerDepartedAnnouncement(payload []byte) (PeerDepartedAnnouncement, error) {
	d := NewDecoder(payload)
	return PeerDepartedAnnouncement{Name: d.String()}, d.Err()
}

// --- Participant status & system commands (carried as IBMessage bodies) ---

// ParticipantState is the per-participant lifecycle state (spec §3).
type ParticipantState uint8

const (
	StateInvalid ParticipantState = iota
	StateServicesCreated
	StateCommunicationInitializing
	StateCommunicationInitialized
	StateReadyToRun
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateError
	StateShuttingDown
	StateShutdown
	StateReinitializing
	StateAborting
)

var stateNames = map[ParticipantState]string{
	StateInvalid:                   "Invalid",
	StateServicesCreated:           "ServicesCreated",
	StateCommunicationInitializing: "CommunicationInitializing",
	StateCommunicationInitialized:  "CommunicationInitialized",
	StateReadyToRun:                "ReadyToRun",
	StateRunning:                   "Running",
	StatePaused:                    "Paused",
	StateStopping:                  "Stopping",
	StateStopped:                   "Stopped",
	StateError:                     "Error",
	StateShuttingDown:              "ShuttingDown",
	StateShutdown:                  "Shutdown",
	StateReinitializing:            "Reinitializing",
	StateAborting:                  "Aborting",
}

func (s ParticipantState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// ParticipantStatus reports one participant's current lifecycle state.
type ParticipantStatus struct {
	ParticipantName string
	State           ParticipantState
	EnterReason     string
	TimestampNs     int64
}

func (p ParticipantStatus) Marshal() []byte {
	e := NewEncoder()
	e.String(p.ParticipantName)
	e.U8(uint8(p.State))
	e.String(p.EnterReason)
	e.I64(p.TimestampNs)
	return e.Bytes()
}

func UnmarshalParticipantStatus(payload []byte) (ParticipantStatus, error) {
	d := NewDecoder(payload)
	p := ParticipantStatus{
		ParticipantName: d.String(),
		State:           ParticipantState(d.U8()),
		EnterReason:     d.String(),
		TimestampNs:     d.I64(),
	}
	return p, d.Err()
}

// SystemCommandKind enumerates the commands the system controller can issue.
type SystemCommandKind uint8

const (
	CmdInitialize SystemCommandKind = iota
	CmdRun
	CmdStop
	CmdShutdown
	CmdAbortSimulation
	CmdPrepareColdReinitialize
)

// SystemCommand is broadcast by the system controller (spec §4.7); every
// lifecycle service decides whether it applies. TargetParticipantID is only
// meaningful for CmdInitialize.
type SystemCommand struct {
	Kind                SystemCommandKind
	TargetParticipantID uint64
}

func (c SystemCommand) Marshal() []byte {
	e := NewEncoder()
	e.U8(uint8(c.Kind))
	e.U64(c.TargetParticipantID)
	return e.Bytes()
}

func UnmarshalSystemCommand(payload []byte) (SystemCommand, error) {
	d := NewDecoder(payload)
	c := SystemCommand{Kind: SystemCommandKind(d.U8()), TargetParticipantID: d.U64()}
	return c, d.Err()
}

// NextSimTask is the time-sync barrier tick (spec §4.9): the sender is at
// NowNs and proposes to run for DurationNs.
type NextSimTask struct {
	NowNs      int64
	DurationNs int64
}

func (t NextSimTask) Marshal() []byte {
	e := NewEncoder()
	e.I64(t.NowNs)
	e.I64(t.DurationNs)
	return e.Bytes()
}

func UnmarshalNextSimTask(payload []byte) (NextSimTask, error) {
	d := NewDecoder(payload)
	t := NextSimTask{NowNs: d.I64(), DurationNs: d.I64()}
	return t, d.Err()
}

// --- Bus payloads ---

// TransmitStatus is the result reported back to a CAN sender.
type TransmitStatus uint8

const (
	TransmitStatusTransmitted TransmitStatus = iota
	TransmitStatusCanceled
	TransmitStatusDuplicatedTransmitID
	TransmitStatusTransmitQueueFull
)

// CanFrameEvent is one CAN frame observed on a network.
type CanFrameEvent struct {
	CanID uint32
	Data  []byte
}

func (f CanFrameEvent) Marshal() []byte {
	e := NewEncoder()
	e.U32(f.CanID)
	e.ByteVec(f.Data)
	return e.Bytes()
}

func UnmarshalCanFrameEvent(payload []byte) (CanFrameEvent, error) {
	d := NewDecoder(payload)
	f := CanFrameEvent{CanID: d.U32(), Data: d.ByteVec()}
	return f, d.Err()
}

// CanTransmitAck reports what happened to a previously sent CAN frame.
type CanTransmitAck struct {
	UserContext uint64
	TimestampNs int64
	Status      TransmitStatus
}

func (a CanTransmitAck) Marshal() []byte {
	e := NewEncoder()
	e.U64(a.UserContext)
	e.I64(a.TimestampNs)
	e.U8(uint8(a.Status))
	return e.Bytes()
}

func UnmarshalCanTransmitAck(payload []byte) (CanTransmitAck, error) {
	d := NewDecoder(payload)
	a := CanTransmitAck{UserContext: d.U64(), TimestampNs: d.I64(), Status: TransmitStatus(d.U8())}
	return a, d.Err()
}

// LinTransmission is a master-initiated LIN frame header plus (optionally) data.
type LinTransmission struct {
	LinID uint8
	Data  []byte
}

func (t LinTransmission) Marshal() []byte {
	e := NewEncoder()
	e.U8(t.LinID)
	e.ByteVec(t.Data)
	return e.Bytes()
}

func UnmarshalLinTransmission(payload []byte) (LinTransmission, error) {
	d := NewDecoder(payload)
	t := LinTransmission{LinID: d.U8(), Data: d.ByteVec()}
	return t, d.Err()
}

// LinFrameResponse is a slave's response to a LinTransmission.
type LinFrameResponse struct {
	LinID  uint8
	Data   []byte
	Status uint8
}

func (r LinFrameResponse) Marshal() []byte {
	e := NewEncoder()
	e.U8(r.LinID)
	e.ByteVec(r.Data)
	e.U8(r.Status)
	return e.Bytes()
}

func UnmarshalLinFrameResponse(payload []byte) (LinFrameResponse, error) {
	d := NewDecoder(payload)
	r := LinFrameResponse{LinID: d.U8(), Data: d.ByteVec(), Status: d.U8()}
	return r, d.Err()
}

// FlexrayPocState mirrors the protocol-operation-control states from spec §8 S3.
type FlexrayPocState uint8

const (
	FlexrayPocDefaultConfig FlexrayPocState = iota
	FlexrayPocReady
	FlexrayPocWakeup
	FlexrayPocNormalActive
	FlexrayPocHalt
)

// FlexrayPocStatusEvent reports a POC state transition.
type FlexrayPocStatusEvent struct {
	State FlexrayPocState
}

func (s FlexrayPocStatusEvent) Marshal() []byte {
	e := NewEncoder()
	e.U8(uint8(s.State))
	return e.Bytes()
}

func UnmarshalFlexrayPocStatusEvent(payload []byte) (FlexrayPocStatusEvent, error) {
	d := NewDecoder(payload)
	return FlexrayPocStatusEvent{State: FlexrayPocState(d.U8())}, d.Err()
}

// FlexrayFrameEvent is one frame observed on a FlexRay cycle.
type FlexrayFrameEvent struct {
	Channel  uint8
	BufferID uint16
	Data     []byte
}

func (f FlexrayFrameEvent) Marshal() []byte {
	e := NewEncoder()
	e.U8(f.Channel)
	e.U16(f.BufferID)
	e.ByteVec(f.Data)
	return e.Bytes()
}

func UnmarshalFlexrayFrameEvent(payload []byte) (FlexrayFrameEvent, error) {
	d := NewDecoder(payload)
	f := FlexrayFrameEvent{Channel: d.U8(), BufferID: d.U16(), Data: d.ByteVec()}
	return f, d.Err()
}

// FlexraySymbolEvent reports a symbol (e.g. wakeup pattern) on the bus.
type FlexraySymbolEvent struct {
	Channel uint8
	Symbol  uint8
}

func (s FlexraySymbolEvent) Marshal() []byte {
	e := NewEncoder()
	e.U8(s.Channel)
	e.U8(s.Symbol)
	return e.Bytes()
}

func UnmarshalFlexraySymbolEvent(payload []byte) (FlexraySymbolEvent, error) {
	d := NewDecoder(payload)
	return FlexraySymbolEvent{Channel: d.U8(), Symbol: d.U8()}, d.Err()
}

// GenericPublishMessage is a generic publish/subscribe payload.
type GenericPublishMessage struct {
	Topic string
	Data  []byte
}

func (m GenericPublishMessage) Marshal() []byte {
	e := NewEncoder()
	e.String(m.Topic)
	e.ByteVec(m.Data)
	return e.Bytes()
}

func UnmarshalGenericPublishMessage(payload []byte) (GenericPublishMessage, error) {
	d := NewDecoder(payload)
	m := GenericPublishMessage{Topic: d.String(), Data: d.ByteVec()}
	return m, d.Err()
}
